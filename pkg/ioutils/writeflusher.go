// Package ioutils holds small I/O helpers shared by the API layer.
package ioutils

import (
	"io"
	"net/http"
	"sync"
)

// WriteFlusher wraps the Write and Flush operation, flushing after
// every write so image bodies stream to the client instead of sitting
// in the response buffer.
type WriteFlusher struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	flushed bool
}

func (wf *WriteFlusher) Write(b []byte) (n int, err error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	n, err = wf.w.Write(b)
	wf.flushed = true
	wf.flusher.Flush()
	return n, err
}

// Flush the stream immediately.
func (wf *WriteFlusher) Flush() {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.flushed = true
	wf.flusher.Flush()
}

// Flushed reports whether any bytes have reached the client yet.
func (wf *WriteFlusher) Flushed() bool {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.flushed
}

// NopFlusher represents a type which flush operation is nop.
type NopFlusher struct{}

// Flush is a nop operation.
func (f *NopFlusher) Flush() {}

// NewWriteFlusher returns a new WriteFlusher.
func NewWriteFlusher(w io.Writer) *WriteFlusher {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	} else {
		flusher = &NopFlusher{}
	}
	return &WriteFlusher{w: w, flusher: flusher}
}
