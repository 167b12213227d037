package image

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/absfs/fatstore"
	"github.com/absfs/fatstore/internal/codec"
)

const (
	metaMagic   = "FATSTOR1"
	metaVersion = 1
	digestSize  = 32
	metaSuffix  = ".meta"
)

var (
	// ErrBadMagic is returned when the metadata file is not a fatstore image.
	ErrBadMagic = errors.New("image: not a fatstore metadata file")

	// ErrChecksum is returned when the metadata digest does not match.
	ErrChecksum = errors.New("image: metadata checksum mismatch")

	// ErrGeometry is returned when the metadata and data file disagree.
	ErrGeometry = errors.New("image: geometry mismatch")
)

// metadata is the CBOR body of the sidecar.
type metadata struct {
	Version    uint32                `cbor:"1,keyasint"`
	BlockSize  uint32                `cbor:"2,keyasint"`
	BlockCount uint32                `cbor:"3,keyasint"`
	Chain      []fatstore.BlockID    `cbor:"4,keyasint"`
	Allocated  []byte                `cbor:"5,keyasint"`
	Files      []fatstore.NodeRecord `cbor:"6,keyasint"`
}

// MetaPath returns the metadata sidecar path for an image.
func MetaPath(path string) string {
	return path + metaSuffix
}

func digest(body []byte) [digestSize]byte {
	return blake3.Sum256(body)
}

func encodeMeta(m *metadata) ([]byte, error) {
	body, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	sum := digest(body)
	buf := make([]byte, 0, len(metaMagic)+digestSize+len(body))
	buf = append(buf, metaMagic...)
	buf = append(buf, sum[:]...)
	return append(buf, body...), nil
}

func decodeMeta(raw []byte) (*metadata, error) {
	if len(raw) < len(metaMagic)+digestSize || !bytes.Equal(raw[:len(metaMagic)], []byte(metaMagic)) {
		return nil, ErrBadMagic
	}
	want := raw[len(metaMagic) : len(metaMagic)+digestSize]
	body := raw[len(metaMagic)+digestSize:]
	if got := digest(body); !bytes.Equal(got[:], want) {
		return nil, ErrChecksum
	}
	var m metadata
	if err := codec.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if m.Version != metaVersion {
		return nil, fmt.Errorf("image: unsupported metadata version %d", m.Version)
	}
	if uint32(len(m.Chain)) != m.BlockCount {
		return nil, fmt.Errorf("%w: chain table has %d entries for %d blocks", ErrGeometry, len(m.Chain), m.BlockCount)
	}
	return &m, nil
}

func readMeta(path string) (*metadata, error) {
	raw, err := os.ReadFile(MetaPath(path))
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return decodeMeta(raw)
}

// writeMeta replaces the sidecar atomically.
func writeMeta(path string, m *metadata) error {
	raw, err := encodeMeta(m)
	if err != nil {
		return err
	}
	target := MetaPath(path)
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp*")
	if err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("replacing metadata: %w", err)
	}
	return nil
}
