package fatstore

type options struct {
	logger    *Logger
	blockSize BlockSize
	numBlocks uint32
	readOnly  bool
}

// Option configures engine and volume construction.
type Option func(*options)

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithBlockSize sets the block size of stores created by NewMemVolume.
// Default: BlockSize4K.
func WithBlockSize(bs BlockSize) Option {
	return func(o *options) {
		o.blockSize = bs
	}
}

// WithBlockCount sets the number of blocks of stores created by NewMemVolume.
// Default: 1024.
func WithBlockCount(n uint32) Option {
	return func(o *options) {
		o.numBlocks = n
	}
}

// WithReadOnly makes the volume reject Create and every write with
// ErrReadOnly.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

func applyOptions(opts []Option) options {
	o := options{
		logger:    NoopLogger(),
		blockSize: BlockSize4K,
		numBlocks: 1024,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
