package engine

import (
	"fmt"

	"github.com/sworrl/LaundR/pkg/classic"
)

// ReplayStep is one scripted block write, landing on the given Live
// call.
type ReplayStep struct {
	Tick  int
	Block int
	Data  classic.Block
}

// ReplayAuth is one scripted authentication observation.
type ReplayAuth struct {
	Tick    int
	Block   int
	KeyType byte
	Nt      uint32
	Nr      uint32
	Ar      uint32
}

// ReplayListener is a Listener fed from a recorded trace instead of a
// radio. The audit command and the end-to-end tests drive sessions
// with it. Writes and Auths must be ordered by Tick; each entry is
// applied on the first Live call whose count reaches its tick, so
// ordering is exact even when the poll cadence is not.
type ReplayListener struct {
	Writes []ReplayStep
	Auths  []ReplayAuth

	img       *classic.Image
	hook      AuthHook
	calls     int
	nextWrite int
	nextAuth  int
	uids      [][4]byte
	started   bool
}

// Start adopts the live image and resets the replay position.
func (l *ReplayListener) Start(live *classic.Image, hook AuthHook) error {
	if l.started {
		return ErrSessionActive
	}
	l.img = live
	l.hook = hook
	l.calls = 0
	l.nextWrite = 0
	l.nextAuth = 0
	l.started = true
	return nil
}

// Live applies every trace entry due by this call and returns the
// live table.
func (l *ReplayListener) Live() *classic.Image {
	if !l.started {
		return l.img
	}
	l.calls++
	for l.nextAuth < len(l.Auths) && l.Auths[l.nextAuth].Tick <= l.calls {
		a := l.Auths[l.nextAuth]
		l.nextAuth++
		if l.hook != nil {
			l.hook(a.Block, a.KeyType, a.Nt, a.Nr, a.Ar)
		}
	}
	for l.nextWrite < len(l.Writes) && l.Writes[l.nextWrite].Tick <= l.calls {
		w := l.Writes[l.nextWrite]
		l.nextWrite++
		if w.Block >= 0 && w.Block < classic.BlockCount {
			l.img.Blocks[w.Block] = w.Data
			l.img.Valid[w.Block] = true
		}
	}
	return l.img
}

// SetUID records the rotation. The session already rewrote block 0 of
// the live image; a radio listener would update its anticollision
// identifier here.
func (l *ReplayListener) SetUID(uid [4]byte) error {
	l.uids = append(l.uids, uid)
	return nil
}

// Stop releases the trace.
func (l *ReplayListener) Stop() error {
	l.started = false
	return nil
}

// Rotations returns the UIDs installed via SetUID, oldest first. Only
// safe to read with the session stopped.
func (l *ReplayListener) Rotations() [][4]byte { return l.uids }

// Exhausted reports whether every trace entry has been applied.
func (l *ReplayListener) Exhausted() bool {
	return l.nextWrite >= len(l.Writes) && l.nextAuth >= len(l.Auths)
}

// ReplayFromShadow scripts one write per block that a shadow diff file
// changes relative to base, each on its own tick. The audit command
// uses this to re-run a captured session against the engine.
func ReplayFromShadow(base *classic.Image, shadowPath string) (*ReplayListener, error) {
	tmp := classic.NewStore()
	tmp.LoadOriginal(base)
	if err := classic.ReadShadow(shadowPath, tmp); err != nil {
		return nil, fmt.Errorf("read shadow: %w", err)
	}
	mod := tmp.Persisted()
	l := &ReplayListener{}
	tick := 1
	for b := 0; b < classic.BlockCount; b++ {
		if classic.IsTrailer(b) || !mod.Valid[b] {
			continue
		}
		if !base.Valid[b] || mod.Blocks[b] != base.Blocks[b] {
			l.Writes = append(l.Writes, ReplayStep{Tick: tick, Block: b, Data: mod.Blocks[b]})
			tick++
		}
	}
	return l, nil
}
