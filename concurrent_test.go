package fatstore

import (
	"bytes"
	"io"
	"sync"
	"testing"
)

// TestConcurrentInoAllocation verifies that Ino allocation is thread-safe
// and produces unique file numbers under concurrent access.
func TestConcurrentInoAllocation(t *testing.T) {
	var ino Ino
	const goroutines = 100
	const allocsPerGoroutine = 1000

	var wg sync.WaitGroup
	nodes := make(chan *Node, goroutines*allocsPerGoroutine)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < allocsPerGoroutine; j++ {
				nodes <- ino.New(0644)
			}
		}()
	}

	wg.Wait()
	close(nodes)

	seen := make(map[uint64]bool)
	for node := range nodes {
		if seen[node.Ino] {
			t.Errorf("duplicate file number: %d", node.Ino)
		}
		seen[node.Ino] = true
	}

	expected := goroutines * allocsPerGoroutine
	if len(seen) != expected {
		t.Errorf("expected %d unique numbers, got %d", expected, len(seen))
	}
}

// TestConcurrentFileWrites runs one writer per file; the files share only
// the allocator. Every chain must come out intact and disjoint.
func TestConcurrentFileWrites(t *testing.T) {
	const files = 16
	const chunks = 40
	const chunkSize = 300

	vol, err := NewMemVolume(WithBlockSize(BlockSize512), WithBlockCount(files*chunks*chunkSize/512+files))
	if err != nil {
		t.Fatalf("NewMemVolume failed: %v", err)
	}

	handles := make([]*File, files)
	for i := range handles {
		if handles[i], err = vol.Create(0644); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(files)
	for i, f := range handles {
		go func() {
			defer wg.Done()
			for c := 0; c < chunks; c++ {
				if _, err := f.Write(payload(chunkSize, byte(i))); err != nil {
					t.Errorf("file %d chunk %d: %v", i, c, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := vol.Check(); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	for i, f := range handles {
		got, err := io.ReadAll(io.NewSectionReader(f, 0, f.Size()))
		if err != nil {
			t.Fatalf("file %d: ReadAll failed: %v", i, err)
		}
		if len(got) != chunks*chunkSize {
			t.Fatalf("file %d: size %d, want %d", i, len(got), chunks*chunkSize)
		}
		want := payload(chunkSize, byte(i))
		for c := 0; c < chunks; c++ {
			if !bytes.Equal(got[c*chunkSize:(c+1)*chunkSize], want) {
				t.Errorf("file %d chunk %d corrupted", i, c)
				break
			}
		}
	}
}

// TestConcurrentSameFile runs a writer and several readers on one file
// through separate handles. Readers must only ever see bytes the writer
// has produced.
func TestConcurrentSameFile(t *testing.T) {
	vol, err := NewMemVolume(WithBlockSize(BlockSize512), WithBlockCount(256))
	if err != nil {
		t.Fatalf("NewMemVolume failed: %v", err)
	}
	w, err := vol.Create(0644)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	data := payload(100000, 0)

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for off := 0; off < len(data); off += 777 {
			end := min(off+777, len(data))
			if _, err := w.Write(data[off:end]); err != nil {
				t.Errorf("Write at %d: %v", off, err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rf, err := vol.Open(w.Ino())
			if err != nil {
				t.Errorf("Open failed: %v", err)
				return
			}
			buf := make([]byte, 1000)
			for {
				select {
				case <-done:
					return
				default:
				}
				size := rf.Size()
				if size == 0 {
					continue
				}
				off := size / 2
				n, err := rf.ReadAt(buf, off)
				if err != nil && err != io.EOF {
					t.Errorf("ReadAt(%d): %v", off, err)
					return
				}
				if !bytes.Equal(buf[:n], data[off:off+int64(n)]) {
					t.Errorf("ReadAt(%d) returned bytes the writer never wrote", off)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := w.Size(); got != int64(len(data)) {
		t.Errorf("Size = %d, want %d", got, len(data))
	}
}
