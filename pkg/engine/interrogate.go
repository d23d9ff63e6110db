package engine

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sworrl/LaundR/pkg/classic"
)

// Interrogation accumulates access-pattern statistics while the
// session runs in ModeInterrogate: which sectors the reader
// authenticates against, with which key type, which blocks it writes,
// and which blocks look like value blocks. Nothing here feeds back
// into the card image.
//
// The auth tallies are written from the listener callback goroutine
// and use atomics; the write tallies are owned by the monitor
// goroutine. Report and Reset must only run with the session stopped.
type Interrogation struct {
	authSector [classic.SectorCount]atomic.Uint32
	authKeyA   atomic.Uint32
	authKeyB   atomic.Uint32
	firstSeen  atomic.Int64 // unix milliseconds, 0 = no activity
	lastSeen   atomic.Int64

	writeBlock [classic.BlockCount]uint32
	writeTotal uint32
	valueCand  [classic.BlockCount]bool
}

// RecordAuth tallies one observed authentication attempt.
func (q *Interrogation) RecordAuth(block int, keyType byte) {
	if block < 0 || block >= classic.BlockCount {
		return
	}
	q.authSector[classic.SectorOf(block)].Add(1)
	if keyType == classic.KeyTypeB {
		q.authKeyB.Add(1)
	} else {
		q.authKeyA.Add(1)
	}
	now := time.Now().UnixMilli()
	q.firstSeen.CompareAndSwap(0, now)
	q.lastSeen.Store(now)
}

// RecordWrite tallies one observed block write.
func (q *Interrogation) RecordWrite(block int) {
	if block < 0 || block >= classic.BlockCount {
		return
	}
	q.writeBlock[block]++
	q.writeTotal++
}

// MarkValueCandidate flags a block whose writes decoded as a valid
// balance change.
func (q *Interrogation) MarkValueCandidate(block int) {
	if block >= 0 && block < classic.BlockCount {
		q.valueCand[block] = true
	}
}

// Observed reports whether any activity was recorded.
func (q *Interrogation) Observed() bool {
	return q.firstSeen.Load() != 0 || q.writeTotal > 0
}

// Reset clears all accumulators. Entering ModeInterrogate resets so a
// report never mixes sessions.
func (q *Interrogation) Reset() {
	for i := range q.authSector {
		q.authSector[i].Store(0)
	}
	q.authKeyA.Store(0)
	q.authKeyB.Store(0)
	q.firstSeen.Store(0)
	q.lastSeen.Store(0)
	for i := range q.writeBlock {
		q.writeBlock[i] = 0
	}
	q.writeTotal = 0
	for i := range q.valueCand {
		q.valueCand[i] = false
	}
}

// Report writes a human-readable summary of the observed access
// pattern.
func (q *Interrogation) Report(w io.Writer) {
	fmt.Fprintln(w, "Interrogation report")
	if !q.Observed() {
		fmt.Fprintln(w, "  no activity observed")
		return
	}
	fmt.Fprintf(w, "  %-14s A=%d B=%d\n", "Auth attempts", q.authKeyA.Load(), q.authKeyB.Load())
	if first := q.firstSeen.Load(); first != 0 {
		fmt.Fprintf(w, "  %-14s %s\n", "First activity", time.UnixMilli(first).Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "  %-14s %s\n", "Last activity", time.UnixMilli(q.lastSeen.Load()).Format("2006-01-02 15:04:05"))
	}
	for s := 0; s < classic.SectorCount; s++ {
		if n := q.authSector[s].Load(); n > 0 {
			fmt.Fprintf(w, "  sector %2d: %d auths\n", s, n)
		}
	}
	for b := 0; b < classic.BlockCount; b++ {
		if q.writeBlock[b] > 0 {
			fmt.Fprintf(w, "  block %2d: %d writes\n", b, q.writeBlock[b])
		}
	}
	cands := ""
	for b := 0; b < classic.BlockCount; b++ {
		if q.valueCand[b] {
			cands += fmt.Sprintf(" %d", b)
		}
	}
	if cands != "" {
		fmt.Fprintf(w, "  value-block candidates:%s\n", cands)
	}
}
