// Package image persists a fatstore volume in two files.
//
// The data file holds the block region, blockCount × blockSize bytes, and is
// memory-mapped read-write so the engine writes straight into it. The
// metadata sidecar (<path>.meta) holds the geometry, the chain table, the
// allocation bitmap and every file's extent, CBOR-encoded behind a magic
// string and a BLAKE3 digest of the body:
//
//	┌──────────┬────────────────────┬──────────────────────┐
//	│ "FATSTOR1"│ blake3(body) 32 B  │ body (CBOR metadata) │
//	└──────────┴────────────────────┴──────────────────────┘
//
// Metadata is replaced atomically (temp file, fsync, rename). There is no
// journal: a crash between data and metadata writes can leave blocks that
// are written but not yet linked.
//
//	img, err := image.Format("vol.img", image.WithBlockCount(4096))
//	f, _ := img.Volume().Create(0o644)
//	f.Write(data)
//	img.Close() // syncs data and metadata
package image
