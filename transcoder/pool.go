package transcoder

import (
	"sync"

	"github.com/wippyai/ndr-runtime/internal/binary"
)

const (
	// writers that grew past this are dropped instead of pooled
	poolMaxCap = 64 << 10
)

var writerPool = sync.Pool{
	New: func() any {
		return binary.NewWriter()
	},
}

func getWriter() *binary.Writer {
	return writerPool.Get().(*binary.Writer)
}

// putWriter returns w to the pool. The caller must have copied its bytes.
func putWriter(w *binary.Writer) {
	if w == nil || w.Len() > poolMaxCap {
		return
	}
	w.Reset()
	writerPool.Put(w)
}

// detach copies the writer contents and returns the writer to the pool.
func detach(w *binary.Writer) []byte {
	out := append([]byte(nil), w.Bytes()...)
	putWriter(w)
	return out
}
