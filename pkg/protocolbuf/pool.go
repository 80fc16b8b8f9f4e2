// Package protocolbuf pools the byte buffers commands are encoded into.
package protocolbuf

import (
	"sync"
)

const (
	defaultSize = 512
	// Buffers that grew past maxPooled are left to the GC.
	maxPooled = 64 * 1024
)

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, defaultSize)
		return &b
	},
}

// GetBuffer returns an empty buffer. Append to *buf and store the result back
// before PutBuffer so growth is kept.
func GetBuffer() *[]byte {
	buf := bufferPool.Get().(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

func PutBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) > maxPooled {
		return
	}
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
