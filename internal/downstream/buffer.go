package downstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// BufferPool recycles byte slices used to marshal outbound frames,
// bucketed by size the same way the rest of the fleet pools buffers
// to keep GC pressure flat under high tick-fanout load.
type BufferPool struct {
	small  sync.Pool // 1KB — single alert/trade events
	medium sync.Pool // 8KB — watchlist snapshots
	large  sync.Pool // 32KB — full session resync payloads
}

func NewBufferPool() *BufferPool {
	return &BufferPool{
		small:  sync.Pool{New: func() any { b := make([]byte, 0, 1024); return &b }},
		medium: sync.Pool{New: func() any { b := make([]byte, 0, 8192); return &b }},
		large:  sync.Pool{New: func() any { b := make([]byte, 0, 32768); return &b }},
	}
}

func (p *BufferPool) Get(sizeHint int) *[]byte {
	switch {
	case sizeHint <= 1024:
		return p.small.Get().(*[]byte)
	case sizeHint <= 8192:
		return p.medium.Get().(*[]byte)
	default:
		return p.large.Get().(*[]byte)
	}
}

func (p *BufferPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	*buf = (*buf)[:0]
	switch cap(*buf) {
	case 1024:
		p.small.Put(buf)
	case 8192:
		p.medium.Put(buf)
	case 32768:
		p.large.Put(buf)
	}
}

// defaultBufferPool backs EncodeEnvelope's scratch allocation — every
// outbound frame marshal borrows from here instead of allocating a
// fresh buffer, which matters at the tick-fanout rates a busy
// watchlist produces.
var defaultBufferPool = NewBufferPool()

// EncodeEnvelope wraps a typed payload for transmission, marshaling
// through a pooled scratch buffer sized by sizeHint.
func (p *BufferPool) EncodeEnvelope(msgType string, payload any, sizeHint int) ([]byte, error) {
	scratch := p.Get(sizeHint)
	defer p.Put(scratch)

	buf := bytes.NewBuffer((*scratch)[:0])
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("downstream: marshal %s payload: %w", msgType, err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")

	out, err := json.Marshal(Envelope{Type: msgType, Data: append(json.RawMessage(nil), data...)})
	if err != nil {
		return nil, fmt.Errorf("downstream: marshal %s envelope: %w", msgType, err)
	}
	return out, nil
}
