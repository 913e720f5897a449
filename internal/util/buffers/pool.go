// Package buffers provides reusable copy buffers. Recompression workers
// and archive writers stream large files concurrently; pooling the buffers
// keeps the heap flat across files.
package buffers

import (
	"io"
	"sync"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

var copyPool = &sync.Pool{
	New: func() interface{} {
		buf := make([]byte, constants.CopyBufferSize)
		return &buf
	},
}

// GetCopyBuffer retrieves a buffer from the pool. It must be returned with
// PutCopyBuffer.
//
// Usage:
//
//	buf := buffers.GetCopyBuffer()
//	defer buffers.PutCopyBuffer(buf)
//	_, err := io.CopyBuffer(dst, src, *buf)
func GetCopyBuffer() *[]byte {
	return copyPool.Get().(*[]byte)
}

// PutCopyBuffer returns a buffer to the pool. Buffers of another size are
// dropped.
func PutCopyBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.CopyBufferSize {
		copyPool.Put(buf)
	}
}

// Copy is io.Copy with a pooled buffer.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetCopyBuffer()
	defer PutCopyBuffer(buf)
	return io.CopyBuffer(dst, src, *buf)
}
