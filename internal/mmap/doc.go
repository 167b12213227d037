// Package mmap maps image files read-write so the block region can be
// addressed as a byte slice.
//
// # Usage
//
//	m, err := mmap.OpenRW("volume.img")
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes() // writes go straight to the page cache
//	err = m.Sync()    // flush dirty pages to the file
//
// # Thread Safety
//
// Close is idempotent and protected by atomic operations. Callers must
// ensure no goroutine touches Bytes() after Close returns.
package mmap
