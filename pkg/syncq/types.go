package syncq

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Kind identifies the concrete remote operation an Op represents. It is
// set by the enqueueing code, which has the authoritative intent; the
// flush worker never probes payloads to decide dispatch.
type Kind string

const (
	KindUploadChat     Kind = "chat.upload"
	KindUploadMessage  Kind = "message.upload"
	KindUploadArtifact Kind = "artifact.upload"
	KindDeleteChat     Kind = "chat.delete"
	KindDeleteMessage  Kind = "message.delete"
	KindDeleteArtifact Kind = "artifact.delete"
)

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUploadChat, KindUploadMessage, KindUploadArtifact,
		KindDeleteChat, KindDeleteMessage, KindDeleteArtifact:
		return true
	}
	return false
}

// Queue errors.
var (
	ErrQueueFull   = errors.New("sync queue full")
	ErrQueueClosed = errors.New("sync queue closed")
	ErrInvalidOp   = errors.New("invalid sync op")
)

// Op is a lightweight in-memory representation of a pending remote
// operation. Payload may be backed by a pooled ByteBuffer; consumers must
// call Item.Done() when finished.
type Op struct {
	Kind   Kind
	ChatID string
	// ID is the record's stable identifier (message idempotency key,
	// chat or artifact id).
	ID string
	// Payload holds the record JSON (nil for deletes).
	Payload []byte
	// TS is the operation timestamp (nanoseconds); doubles as enqueuedAt.
	TS int64
	// EnqSeq is a monotonic enqueue sequence assigned on acceptance,
	// used for FIFO accounting.
	EnqSeq uint64
	// WALOffset is the durable log offset when the op was journaled
	// (-1 when the WAL is disabled).
	WALOffset int64
}

const maxPooledBuffer = 1 << 20

var opPool = sync.Pool{New: func() interface{} { return new(Op) }}

// Item wraps an Op and owns a pooled ByteBuffer if one was used. Consumers
// MUST call Done() exactly once after processing the item to return
// pooled resources.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
	q    *Queue
}

// Done releases internal pooled resources (buffer + op) back to the pool.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.q != nil {
			atomic.AddInt64(&it.q.inFlight, -1)
			it.q = nil
		}
		if it.buf != nil {
			// avoid retaining huge buffers in the pool
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Op != nil {
			it.Op.Payload = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
	})
}
