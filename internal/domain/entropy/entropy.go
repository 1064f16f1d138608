// Package entropy supplies the pseudo-random input used to break repeated
// ties. The environmental source mirrors on-chain style randomness: it mixes
// a clock reading, a beacon value and the caller identity. It is NOT
// cryptographically secure and is influenceable by whoever controls the clock
// and beacon inputs; callers needing determinism inject their own Source.
package entropy

import (
	"crypto/sha256"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// Source draws one pseudo-random value for a caller. The coordinator reduces
// the value modulo the tied-set size.
type Source interface {
	Draw(caller string) uint64
}

// Environmental combines current time, a beacon value and the caller identity
// into a single value. Zero fields fall back to the wall clock and a
// process-local counter.
type Environmental struct {
	Now    func() time.Time
	Beacon func() uint64
}

var fallbackBeacon atomic.Uint64

func (e Environmental) Draw(caller string) uint64 {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	beacon := fallbackBeacon.Add(1)
	if e.Beacon != nil {
		beacon = e.Beacon()
	}
	return Mix(now().UnixNano(), beacon, caller)
}

// Mix hashes the three entropy inputs into one value.
func Mix(unixNano int64, beacon uint64, caller string) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(unixNano))
	binary.BigEndian.PutUint64(buf[8:], beacon)
	h := sha256.New()
	h.Write(buf[:])
	h.Write([]byte(caller))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Fixed always draws the same value. Test use.
type Fixed uint64

func (f Fixed) Draw(string) uint64 { return uint64(f) }
