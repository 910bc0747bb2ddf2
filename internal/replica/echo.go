package replica

import (
	"hash/fnv"
	"sync"
	"time"
)

// echoCapacity bounds the suppressor ring. Echoes arrive within
// milliseconds of the original publish, so a small window is plenty.
const echoCapacity = 256

// DefaultEchoTTL is how long a registered fingerprint stays live.
const DefaultEchoTTL = 5 * time.Second

type echoEntry struct {
	fp      uint64
	expires time.Time
}

// EchoSuppressor prevents an instance from reprocessing its own update
// when the broadcast fabric echoes it back. It is a bounded TTL cache of
// payload fingerprints: a fixed-size ring, not one timer per entry.
//
// Suppression is an optimization that preserves local undo/redo
// continuity. A miss only costs a redundant, idempotent merge, so
// entries may expire early without harm.
type EchoSuppressor struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries [echoCapacity]echoEntry
	next    int
}

// NewEchoSuppressor creates a suppressor with the given entry TTL.
// A non-positive ttl selects DefaultEchoTTL.
func NewEchoSuppressor(ttl time.Duration) *EchoSuppressor {
	if ttl <= 0 {
		ttl = DefaultEchoTTL
	}
	return &EchoSuppressor{ttl: ttl, now: time.Now}
}

// Fingerprint hashes the first 32 bytes of a payload. Deltas start with
// their own header and checksum material, so a short prefix is enough
// to tell records apart within the echo window.
func Fingerprint(payload []byte) uint64 {
	h := fnv.New64a()
	if len(payload) > 32 {
		payload = payload[:32]
	}
	h.Write(payload)
	return h.Sum64()
}

// Register remembers a just-published payload for the TTL window,
// evicting the oldest slot when the ring is full.
func (e *EchoSuppressor) Register(payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[e.next] = echoEntry{fp: Fingerprint(payload), expires: e.now().Add(e.ttl)}
	e.next = (e.next + 1) % echoCapacity
}

// Consume reports whether the payload matches a live registration, and
// spends the registration so a genuine duplicate from another source is
// still merged (harmlessly) rather than silently dropped forever.
func (e *EchoSuppressor) Consume(payload []byte) bool {
	fp := Fingerprint(payload)
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.entries {
		ent := &e.entries[i]
		if ent.expires.IsZero() {
			continue
		}
		if !ent.expires.After(now) {
			*ent = echoEntry{} // purge expired on touch
			continue
		}
		if ent.fp == fp {
			*ent = echoEntry{}
			return true
		}
	}
	return false
}
