package rfb

import "sync"

// EncodingStats accumulates wire-efficiency counters for one encoding,
// grounded on the original source's stats.c per-encoding bookkeeping.
type EncodingStats struct {
	RectanglesSent     uint64
	BytesSent          uint64
	RawBytesEquivalent uint64
}

// ClientStats holds the full set of per-client counters named in §3
// (Client "Per-encoding statistics"). All access goes through the
// package-internal mutex since the output thread writes encoding
// counters while a host-application goroutine may read Snapshot
// concurrently.
type ClientStats struct {
	mu         sync.Mutex
	byEncoding map[EncodingID]EncodingStats

	keyEvents     uint64
	pointerEvents uint64
}

func newClientStats() *ClientStats {
	return &ClientStats{byEncoding: make(map[EncodingID]EncodingStats)}
}

func (s *ClientStats) record(id EncodingID, rects int, bytesSent, rawBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.byEncoding[id]
	st.RectanglesSent += uint64(rects)
	st.BytesSent += uint64(bytesSent)
	st.RawBytesEquivalent += uint64(rawBytes)
	s.byEncoding[id] = st
}

func (s *ClientStats) recordKeyEvent() {
	s.mu.Lock()
	s.keyEvents++
	s.mu.Unlock()
}

func (s *ClientStats) recordPointerEvent() {
	s.mu.Lock()
	s.pointerEvents++
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the per-encoding and
// per-event-type counters.
func (s *ClientStats) Snapshot() (byEncoding map[EncodingID]EncodingStats, keyEvents, pointerEvents uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[EncodingID]EncodingStats, len(s.byEncoding))
	for k, v := range s.byEncoding {
		out[k] = v
	}
	return out, s.keyEvents, s.pointerEvents
}
