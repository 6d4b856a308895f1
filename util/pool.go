package util

import "sync"

// DefaultBufSize is the largest chunk read from a terminal in one go
// (32 KiB).  It keeps every UpdateState frame well under the maximum
// UDP datagram size.
const DefaultBufSize = 32 * 1024

// BufPool recycles terminal read buffers across sessions, so a server
// that churns through many short-lived shells does not allocate a
// fresh 32 KiB buffer for each one.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
