package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sworrl/LaundR/pkg/classic"
)

// NoncePoolSize bounds the number of in-progress and completed nonce
// records. Once the pool is full, new (sector, key type) attempts are
// dropped: capture is best-effort and must never block the radio path.
const NoncePoolSize = 50

// nonceRecord holds the two authentication exchanges needed to crack
// one sector key offline. filled means both exchanges are present.
type nonceRecord struct {
	filled  bool
	sector  uint8
	keyType byte
	cuid    uint32
	nt0     uint32
	nr0     uint32
	ar0     uint32
	nt1     uint32
	nr1     uint32
	ar1     uint32
}

// NoncePool collects reader authentication attempts made with keys the
// emulated card does not accept. Two attempts against the same
// (sector, key type) form a crackable pair.
//
// Observe runs on the listener's callback goroutine and is the sole
// owner of the record array; it never allocates, blocks, or does I/O.
// The count queries are atomics and may be read from any goroutine.
// Export and Reset touch the records and must only run with no
// listener active.
type NoncePool struct {
	recs  [NoncePoolSize]nonceRecord
	count int
	cuid  uint32

	complete atomic.Uint32
	keyB     atomic.Uint32
	dropped  atomic.Uint32
	writeKey atomic.Bool
}

// SetCUID sets the card UID stamped into records created from now on.
// Records keep the UID they were created under, so a rotation mid-pair
// does not corrupt the exported line.
func (p *NoncePool) SetCUID(uid [4]byte) {
	p.cuid = binary.BigEndian.Uint32(uid[:])
}

// Observe records one authentication attempt. The first attempt for a
// (sector, key type) opens a record; the second completes it. A Key B
// attempt raises the write-key flag: Key B guards write access and is
// the higher-value capture.
func (p *NoncePool) Observe(sector uint8, keyType byte, nt, nr, ar uint32) {
	for i := 0; i < p.count; i++ {
		r := &p.recs[i]
		if r.filled || r.sector != sector || r.keyType != keyType {
			continue
		}
		r.nt1, r.nr1, r.ar1 = nt, nr, ar
		r.filled = true
		p.complete.Add(1)
		if keyType == classic.KeyTypeB {
			p.writeKey.Store(true)
		}
		return
	}
	if p.count >= NoncePoolSize {
		p.dropped.Add(1)
		return
	}
	p.recs[p.count] = nonceRecord{
		sector:  sector,
		keyType: keyType,
		cuid:    p.cuid,
		nt0:     nt,
		nr0:     nr,
		ar0:     ar,
	}
	p.count++
	if keyType == classic.KeyTypeB {
		p.keyB.Add(1)
		p.writeKey.Store(true)
	}
}

// Len reports how many records are allocated, complete or not.
func (p *NoncePool) Len() int { return p.count }

// Complete reports the number of completed pairs.
func (p *NoncePool) Complete() int { return int(p.complete.Load()) }

// KeyBCount reports how many Key B records have been opened.
func (p *NoncePool) KeyBCount() int { return int(p.keyB.Load()) }

// WriteKeySeen reports whether any Key B attempt was captured.
func (p *NoncePool) WriteKeySeen() bool { return p.writeKey.Load() }

// Dropped reports attempts discarded because the pool was full.
func (p *NoncePool) Dropped() uint32 { return p.dropped.Load() }

// Export writes one line per completed pair in the layout the offline
// cracking tools parse. Incomplete records are skipped. It returns the
// number of lines written.
func (p *NoncePool) Export(w io.Writer) (int, error) {
	n := 0
	for i := 0; i < p.count; i++ {
		r := &p.recs[i]
		if !r.filled {
			continue
		}
		letter := byte('A')
		if r.keyType == classic.KeyTypeB {
			letter = 'B'
		}
		_, err := fmt.Fprintf(w,
			"Sec %d key %c cuid %08x nt0 %08x nr0 %08x ar0 %08x nt1 %08x nr1 %08x ar1 %08x\n",
			r.sector, letter, r.cuid, r.nt0, r.nr0, r.ar0, r.nt1, r.nr1, r.ar1)
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Reset discards all records and zeroes the counters. The stamped CUID
// is kept; the session re-stamps it at every start.
func (p *NoncePool) Reset() {
	for i := 0; i < p.count; i++ {
		p.recs[i] = nonceRecord{}
	}
	p.count = 0
	p.complete.Store(0)
	p.keyB.Store(0)
	p.dropped.Store(0)
	p.writeKey.Store(false)
}
