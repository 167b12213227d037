// fatstore manipulates files stored in a FAT-chained block image.
//
// Usage:
//
//	fatstore [--config FILE] [--image PATH] <command> [flags] [args]
//
// Commands:
//
//	format  [--block-size N] [--block-count N]   create an empty image
//	create                                       create an empty file, print its number
//	write   INO [--offset N] [--input FILE]      write stdin (or FILE) into file INO
//	read    INO [--offset N] [--length N]        copy file INO to stdout
//	stat    INO                                  print size, blocks and head block
//	ls                                           list files
//	check                                        verify every chain
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/absfs/fatstore"
	"github.com/absfs/fatstore/image"
	"github.com/absfs/fatstore/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, fatstore.ErrCorruptChain) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

type command struct {
	name string
	run  func(cfg *config.Config, args []string, stdin io.Reader, stdout io.Writer) error
}

var commands = []command{
	{"format", runFormat},
	{"create", runCreate},
	{"write", runWrite},
	{"read", runRead},
	{"stat", runStat},
	{"ls", runList},
	{"check", runCheck},
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var configPath, imagePath string

	flagSet := pflag.NewFlagSet("fatstore", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config (default: $"+config.EnvVar+")")
	flagSet.StringVar(&imagePath, "image", "", "image data file (overrides config)")
	flagSet.SetOutput(stdout)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if imagePath != "" {
		cfg.Image = imagePath
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stdout, flagSet)
		return errors.New("missing command")
	}
	for _, c := range commands {
		if c.name == rest[0] {
			return c.run(cfg, rest[1:], stdin, stdout)
		}
	}
	printUsage(stdout, flagSet)
	return fmt.Errorf("unknown command %q", rest[0])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: fatstore [flags] <command> [args]")
	fmt.Fprintln(w, "\nCommands: format, create, write, read, stat, ls, check")
	fmt.Fprintln(w, "\nFlags:")
	flagSet.PrintDefaults()
}

func openImage(cfg *config.Config, opts ...image.Option) (*image.Image, error) {
	return image.Open(cfg.Image, append([]image.Option{image.WithLogger(cfg.Logger())}, opts...)...)
}

// inspect opens the image without writing to it on close.
func inspect(cfg *config.Config, opts ...image.Option) (*image.Image, error) {
	return openImage(cfg, append(opts, image.WithReadOnly(true))...)
}

func parseIno(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one file number")
	}
	ino, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("file number %q: %w", args[0], err)
	}
	return ino, nil
}

func runFormat(cfg *config.Config, args []string, _ io.Reader, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet("format", pflag.ContinueOnError)
	blockSize := flagSet.Int("block-size", cfg.BlockSize, "block size in bytes")
	blockCount := flagSet.Uint32("block-count", cfg.BlockCount, "number of blocks")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	img, err := image.Format(cfg.Image,
		image.WithBlockSize(fatstore.BlockSize(*blockSize)),
		image.WithBlockCount(*blockCount),
		image.WithLogger(cfg.Logger()),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "formatted %s: %d blocks of %d bytes\n", cfg.Image, *blockCount, *blockSize)
	return img.Close()
}

func runCreate(cfg *config.Config, args []string, _ io.Reader, stdout io.Writer) (err error) {
	if len(args) != 0 {
		return errors.New("create takes no arguments")
	}
	img, err := openImage(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, img.Close()) }()

	f, err := img.Volume().Create(0o644)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, f.Ino())
	return f.Close()
}

func runWrite(cfg *config.Config, args []string, stdin io.Reader, stdout io.Writer) (err error) {
	flagSet := pflag.NewFlagSet("write", pflag.ContinueOnError)
	offset := flagSet.Int64("offset", 0, "byte offset to write at")
	input := flagSet.String("input", "", "read data from this file instead of stdin")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	ino, err := parseIno(flagSet.Args())
	if err != nil {
		return err
	}

	src := stdin
	if *input != "" {
		in, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer in.Close()
		src = in
	}

	img, err := openImage(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, img.Close()) }()

	f, err := img.Volume().Open(ino)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(*offset, io.SeekStart); err != nil {
		return err
	}
	n, err := io.Copy(f, src)
	fmt.Fprintf(stdout, "wrote %d bytes, size %d\n", n, f.Size())
	return err
}

func runRead(cfg *config.Config, args []string, _ io.Reader, stdout io.Writer) (err error) {
	flagSet := pflag.NewFlagSet("read", pflag.ContinueOnError)
	offset := flagSet.Int64("offset", 0, "byte offset to read from")
	length := flagSet.Int64("length", -1, "bytes to read (default: to end of file)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	ino, err := parseIno(flagSet.Args())
	if err != nil {
		return err
	}

	img, err := inspect(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, img.Close()) }()

	f, err := img.Volume().Open(ino)
	if err != nil {
		return err
	}
	defer f.Close()

	if *offset < 0 {
		return fmt.Errorf("offset %d: %w", *offset, fatstore.ErrInvalidOffset)
	}
	var r io.Reader = io.NewSectionReader(f, *offset, max(f.Size()-*offset, 0))
	if *length >= 0 {
		r = io.LimitReader(r, *length)
	}
	_, err = io.Copy(stdout, r)
	return err
}

func runStat(cfg *config.Config, args []string, _ io.Reader, stdout io.Writer) (err error) {
	ino, err := parseIno(args)
	if err != nil {
		return err
	}
	img, err := inspect(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, img.Close()) }()

	fi, err := img.Volume().Stat(ino)
	if err != nil {
		return err
	}
	printStat(stdout, fi.Sys().(fatstore.Extent), fi.Name())
	return nil
}

func printStat(w io.Writer, ext fatstore.Extent, name string) {
	if ext.Empty() {
		fmt.Fprintf(w, "%s\tsize=0\tblocks=0\thead=-\n", name)
		return
	}
	fmt.Fprintf(w, "%s\tsize=%d\tblocks=%d\thead=%d\n", name, ext.Size, ext.Blocks, ext.Head)
}

func runList(cfg *config.Config, args []string, _ io.Reader, stdout io.Writer) (err error) {
	if len(args) != 0 {
		return errors.New("ls takes no arguments")
	}
	img, err := inspect(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, img.Close()) }()

	vol := img.Volume()
	for _, ino := range vol.Files() {
		fi, err := vol.Stat(ino)
		if err != nil {
			return err
		}
		printStat(stdout, fi.Sys().(fatstore.Extent), fi.Name())
	}
	fmt.Fprintf(stdout, "free blocks: %d\n", vol.FreeBlocks())
	return nil
}

func runCheck(cfg *config.Config, args []string, _ io.Reader, stdout io.Writer) (err error) {
	if len(args) != 0 {
		return errors.New("check takes no arguments")
	}
	img, err := inspect(cfg, image.WithVerify(false))
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, img.Close()) }()

	if err := img.Volume().Check(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d files, all chains consistent\n", cfg.Image, len(img.Volume().Files()))
	return nil
}
