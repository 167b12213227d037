package image

import "github.com/absfs/fatstore"

// Options configures Format and Open.
type Options struct {
	// BlockSize is the block size of a new image. Default: 4096.
	BlockSize fatstore.BlockSize

	// BlockCount is the number of blocks of a new image. Default: 1024.
	BlockCount uint32

	// Logger receives engine and image logs. Default: discard.
	Logger *fatstore.Logger

	// Verify runs Volume.Check when an image is opened and refuses to open
	// it if a chain is corrupt. Default: true.
	Verify bool

	// ReadOnly maps the data file read-only for Open. The volume rejects
	// writes, Sync fails and Close leaves both files untouched.
	// Default: false.
	ReadOnly bool
}

// Option configures an image.
type Option func(*Options)

// WithBlockSize sets the block size of a new image.
func WithBlockSize(bs fatstore.BlockSize) Option {
	return func(o *Options) { o.BlockSize = bs }
}

// WithBlockCount sets the number of blocks of a new image.
func WithBlockCount(n uint32) Option {
	return func(o *Options) { o.BlockCount = n }
}

// WithLogger sets the logger.
func WithLogger(l *fatstore.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithVerify enables or disables the chain check on Open.
func WithVerify(verify bool) Option {
	return func(o *Options) { o.Verify = verify }
}

// WithReadOnly opens the image without ever writing to it.
func WithReadOnly(readOnly bool) Option {
	return func(o *Options) { o.ReadOnly = readOnly }
}

func applyOptions(opts []Option) Options {
	o := Options{
		BlockSize:  fatstore.BlockSize4K,
		BlockCount: 1024,
		Logger:     fatstore.NoopLogger(),
		Verify:     true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = fatstore.NoopLogger()
	}
	return o
}
