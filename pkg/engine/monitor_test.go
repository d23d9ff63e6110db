package engine

import (
	"strings"
	"testing"

	"github.com/sworrl/LaundR/pkg/classic"
)

func testStore(t *testing.T, cents uint16) *classic.Store {
	t.Helper()
	st := classic.NewStore()
	st.LoadOriginal(classic.MasterImage(cents, 7, 0x11223344))
	return st
}

// chargedBlock returns the persisted balance block rewritten to a new
// amount, the way a reader write would arrive. Block 8 mirrors block 4
// verbatim, so the same bytes serve both.
func chargedBlock(st *classic.Store, cents uint16) classic.Block {
	b := st.Persisted().Blocks[classic.BalanceBlock]
	classic.SetBalance(&b, cents)
	return b
}

type monitorHarness struct {
	store *classic.Store
	mon   *Monitor
	ctr   *Counters
	ev    *EventLog
	pool  *NoncePool
	inter *Interrogation
}

func newMonitorHarness(t *testing.T, cents uint16) *monitorHarness {
	t.Helper()
	st := testStore(t, cents)
	h := &monitorHarness{
		store: st,
		ctr:   &Counters{},
		ev:    NewEventLog(64),
		pool:  &NoncePool{},
		inter: &Interrogation{},
	}
	h.mon = NewMonitor(st, h.ctr, h.ev, h.pool, h.inter)
	st.ResetLiveFromPersisted()
	h.mon.Arm()
	return h
}

func (h *monitorHarness) tick(mode Mode) bool {
	return h.mon.Tick(h.store.Live(), mode)
}

func hasKind(evs []Event, kind EventKind) bool {
	for _, e := range evs {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func findKind(t *testing.T, evs []Event, kind EventKind) Event {
	t.Helper()
	for _, e := range evs {
		if e.Kind == kind {
			return e
		}
	}
	t.Fatalf("no event of kind %d in %d events", kind, len(evs))
	return Event{}
}

func TestMonitorFirstTickOnlySeeds(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	if h.tick(ModeHack) {
		t.Fatal("seeding tick requested a rotation")
	}
	h.tick(ModeHack)
	if n := h.ctr.Writes.Load(); n != 0 {
		t.Fatalf("writes = %d on an idle card", n)
	}
	if h.ev.Len() != 0 {
		t.Fatalf("%d events on an idle card", h.ev.Len())
	}
}

func TestMonitorEmitsBlockWrite(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeHack)

	live := h.store.Live()
	old := live.Blocks[1]
	live.Blocks[1][0] ^= 0xFF
	h.tick(ModeHack)

	if n := h.ctr.Writes.Load(); n != 1 {
		t.Fatalf("writes = %d, want 1", n)
	}
	evs := h.ev.Drain()
	if len(evs) != 1 {
		t.Fatalf("%d events, want 1", len(evs))
	}
	ev := evs[0]
	if ev.Kind != EventBlockWrite || ev.Block != 1 {
		t.Fatalf("event = %+v, want block 1 write", ev)
	}
	if ev.Old != old || ev.New != live.Blocks[1] {
		t.Fatal("event does not carry the before/after bytes")
	}

	// Baseline refreshed: the same bytes produce nothing next tick.
	h.tick(ModeHack)
	if h.ev.Len() != 0 {
		t.Fatal("unchanged block reported again")
	}
}

func TestMonitorSkipsTrailersAndInvalidBlocks(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeHack)

	live := h.store.Live()
	live.Blocks[3][0] ^= 0xFF // sector trailer
	live.Valid[5] = false
	live.Blocks[5][0] ^= 0xFF
	h.tick(ModeHack)

	if h.ctr.Writes.Load() != 0 || h.ev.Len() != 0 {
		t.Fatal("trailer or invalid block produced a write event")
	}
}

func TestHackModeBlocksCharge(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeHack)

	charged := chargedBlock(h.store, 4500)
	live := h.store.Live()
	live.Blocks[classic.BalanceBlock] = charged
	live.Blocks[classic.MirrorBlock] = charged

	if !h.tick(ModeHack) {
		t.Fatal("blocked charge did not request a rotation")
	}

	if n := h.ctr.BlockedWrites.Load(); n != 1 {
		t.Fatalf("blocked writes = %d, want 1", n)
	}
	if cents, ok := h.store.PersistedBalance(); !ok || cents != 5000 {
		t.Fatalf("persisted balance = %d (ok=%v), want 5000", cents, ok)
	}
	p := h.store.Persisted()
	if live.Blocks[classic.BalanceBlock] != p.Blocks[classic.BalanceBlock] {
		t.Fatal("live balance block not restored in place")
	}
	if live.Blocks[classic.MirrorBlock] != p.Blocks[classic.MirrorBlock] {
		t.Fatal("live mirror block not restored in place")
	}
	if !h.mon.BalanceChanged() {
		t.Fatal("balance change not flagged")
	}
	if h.mon.LastCharge() != -500 {
		t.Fatalf("last charge = %d, want -500", h.mon.LastCharge())
	}

	evs := h.ev.Drain()
	charge := findKind(t, evs, EventCharge)
	if charge.Before != 5000 || charge.After != 4500 || charge.Delta != -500 {
		t.Fatalf("charge event = %+v", charge)
	}
	rollback := findKind(t, evs, EventRollback)
	if rollback.Before != 5000 {
		t.Fatalf("rollback event = %+v", rollback)
	}

	// The in-place restore must not read back as a reader write.
	h.tick(ModeHack)
	h.tick(ModeHack)
	if h.ev.Len() != 0 {
		t.Fatal("rollback produced spurious write events")
	}
}

func TestHackModeCountsEachDecrease(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeHack)
	live := h.store.Live()

	for i, cents := range []uint16{4500, 4000, 3500} {
		b := chargedBlock(h.store, cents)
		live.Blocks[classic.BalanceBlock] = b
		live.Blocks[classic.MirrorBlock] = b
		if !h.tick(ModeHack) {
			t.Fatalf("charge %d did not request a rotation", i)
		}
	}

	if n := h.ctr.BlockedWrites.Load(); n != 3 {
		t.Fatalf("blocked writes = %d, want 3", n)
	}
	if cents, _ := h.store.PersistedBalance(); cents != 5000 {
		t.Fatalf("persisted balance = %d, want 5000", cents)
	}
}

func TestLegitModeAcceptsCharge(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeLegit)

	charged := chargedBlock(h.store, 4500)
	live := h.store.Live()
	live.Blocks[classic.BalanceBlock] = charged
	live.Blocks[classic.MirrorBlock] = charged

	if h.tick(ModeLegit) {
		t.Fatal("legit charge requested a rotation")
	}
	if h.ctr.BlockedWrites.Load() != 0 {
		t.Fatal("legit charge counted as blocked")
	}
	if cents, ok := h.store.PersistedBalance(); !ok || cents != 4500 {
		t.Fatalf("persisted balance = %d (ok=%v), want 4500", cents, ok)
	}
	if h.store.Persisted().Blocks[classic.MirrorBlock] != charged {
		t.Fatal("mirror block not folded into persisted")
	}
	if h.mon.LastCharge() != -500 {
		t.Fatalf("last charge = %d, want -500", h.mon.LastCharge())
	}
}

func TestHackModeAcceptsCreditAndRotates(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeHack)

	credited := chargedBlock(h.store, 6000)
	live := h.store.Live()
	live.Blocks[classic.BalanceBlock] = credited
	live.Blocks[classic.MirrorBlock] = credited

	if !h.tick(ModeHack) {
		t.Fatal("credit in hack mode did not request a rotation")
	}
	if h.ctr.BlockedWrites.Load() != 0 {
		t.Fatal("credit counted as blocked write")
	}
	if cents, _ := h.store.PersistedBalance(); cents != 6000 {
		t.Fatalf("persisted balance = %d, want 6000", cents)
	}
	credit := findKind(t, h.ev.Drain(), EventCredit)
	if credit.Delta != 1000 || credit.Before != 5000 || credit.After != 6000 {
		t.Fatalf("credit event = %+v", credit)
	}
}

func TestLegitModeCreditNoRotation(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeLegit)

	credited := chargedBlock(h.store, 6000)
	live := h.store.Live()
	live.Blocks[classic.BalanceBlock] = credited
	live.Blocks[classic.MirrorBlock] = credited

	if h.tick(ModeLegit) {
		t.Fatal("legit credit requested a rotation")
	}
	if cents, _ := h.store.PersistedBalance(); cents != 6000 {
		t.Fatalf("persisted balance = %d, want 6000", cents)
	}
}

func TestInterrogateNeverMutatesPersisted(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeInterrogate)

	charged := chargedBlock(h.store, 4500)
	live := h.store.Live()
	live.Blocks[classic.BalanceBlock] = charged
	live.Blocks[classic.MirrorBlock] = charged

	if h.tick(ModeInterrogate) {
		t.Fatal("interrogation requested a rotation")
	}
	if cents, _ := h.store.PersistedBalance(); cents != 5000 {
		t.Fatalf("persisted balance = %d, want 5000", cents)
	}
	if h.ctr.BlockedWrites.Load() != 0 {
		t.Fatal("interrogation blocked a write")
	}
	if live.Blocks[classic.BalanceBlock] != charged {
		t.Fatal("interrogation rolled the live balance back")
	}

	// A later credit is also only observed.
	credited := chargedBlock(h.store, 5000)
	live.Blocks[classic.BalanceBlock] = credited
	live.Blocks[classic.MirrorBlock] = credited
	h.tick(ModeInterrogate)
	if cents, _ := h.store.PersistedBalance(); cents != 5000 {
		t.Fatal("credit leaked into persisted during interrogation")
	}

	var sb strings.Builder
	h.inter.Report(&sb)
	out := sb.String()
	if !strings.Contains(out, "value-block candidates: 4") {
		t.Fatalf("report missing the value-block candidate:\n%s", out)
	}
	if !strings.Contains(out, "block  4: 2 writes") {
		t.Fatalf("report missing the write tally:\n%s", out)
	}
}

func TestChecksumInvalidMeansNoEvent(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeHack)

	// Break the complement so the balance decodes as unknown.
	live := h.store.Live()
	corrupt := live.Blocks[classic.BalanceBlock]
	corrupt[4] ^= 0xFF
	live.Blocks[classic.BalanceBlock] = corrupt

	if h.tick(ModeHack) {
		t.Fatal("unknown balance requested a rotation")
	}
	if h.ctr.BlockedWrites.Load() != 0 {
		t.Fatal("unknown balance counted as blocked write")
	}
	evs := h.ev.Drain()
	if len(evs) != 1 || evs[0].Kind != EventBlockWrite {
		t.Fatalf("events = %+v, want only the raw block write", evs)
	}
	if live.Blocks[classic.BalanceBlock] != corrupt {
		t.Fatal("corrupt block was rolled back")
	}
	if cents, ok := h.mon.ReferenceBalance(); !ok || cents != 5000 {
		t.Fatalf("reference balance = %d (ok=%v), want 5000", cents, ok)
	}

	// A later valid decrease is measured against the old reference.
	charged := chargedBlock(h.store, 4500)
	live.Blocks[classic.BalanceBlock] = charged
	live.Blocks[classic.MirrorBlock] = charged
	if !h.tick(ModeHack) {
		t.Fatal("valid charge after corruption not detected")
	}
	charge := findKind(t, h.ev.Drain(), EventCharge)
	if charge.Before != 5000 || charge.After != 4500 {
		t.Fatalf("charge event = %+v, want 5000 -> 4500", charge)
	}
}

func TestMonitorSurfacesWriteKeyCaptures(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeHack)

	h.pool.Observe(1, classic.KeyTypeB, 1, 2, 3)
	h.tick(ModeHack)
	evs := h.ev.Drain()
	if !hasKind(evs, EventWriteKeyNonce) {
		t.Fatal("write-key capture not surfaced")
	}

	// Completing the pair opens no new record; no second event.
	h.pool.Observe(1, classic.KeyTypeB, 4, 5, 6)
	h.tick(ModeHack)
	if hasKind(h.ev.Drain(), EventWriteKeyNonce) {
		t.Fatal("pair completion surfaced as a new capture")
	}

	h.pool.Observe(2, classic.KeyTypeB, 7, 8, 9)
	h.tick(ModeHack)
	ev := findKind(t, h.ev.Drain(), EventWriteKeyNonce)
	if ev.Delta != 2 {
		t.Fatalf("capture event delta = %d, want 2", ev.Delta)
	}
}

func TestDisarmLegitCommitsEverything(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeLegit)

	live := h.store.Live()
	live.Blocks[1][0] ^= 0xFF
	h.tick(ModeLegit)

	h.mon.Disarm(ModeLegit)
	if h.store.Persisted().Blocks[1] != live.Blocks[1] {
		t.Fatal("observed live change not committed at disarm")
	}
}

func TestDisarmHackDiscardsBalanceDivergenceOnly(t *testing.T) {
	h := newMonitorHarness(t, 5000)
	h.tick(ModeHack)

	// Divergence lands after the last tick, right before stop.
	live := h.store.Live()
	live.Blocks[1][0] ^= 0xFF
	live.Blocks[classic.BalanceBlock] = chargedBlock(h.store, 4500)

	h.mon.Disarm(ModeHack)
	p := h.store.Persisted()
	if live.Blocks[classic.BalanceBlock] != p.Blocks[classic.BalanceBlock] {
		t.Fatal("balance divergence survived disarm")
	}
	if live.Blocks[1] == p.Blocks[1] {
		t.Fatal("non-balance write was reverted; it is informational only")
	}
	if p.Blocks[1] != h.store.Original().Blocks[1] {
		t.Fatal("non-balance write leaked into persisted")
	}
}

func TestMonitorArmWithUnknownBalance(t *testing.T) {
	st := testStore(t, 5000)
	corrupt := st.Persisted().Blocks[classic.BalanceBlock]
	corrupt[4] ^= 0xFF
	st.ApplyPersistedEdit(classic.BalanceBlock, corrupt)

	var ctr Counters
	var pool NoncePool
	var inter Interrogation
	ev := NewEventLog(16)
	mon := NewMonitor(st, &ctr, ev, &pool, &inter)
	st.ResetLiveFromPersisted()
	mon.Arm()

	if _, ok := mon.ReferenceBalance(); ok {
		t.Fatal("reference balance known despite invalid persisted block")
	}

	// The first valid observation only establishes the reference.
	live := st.Live()
	fixed := chargedBlock(st, 3000)
	live.Blocks[classic.BalanceBlock] = fixed
	mon.Tick(live, ModeHack)
	mon.Tick(live, ModeHack)

	if cents, ok := mon.ReferenceBalance(); !ok || cents != 3000 {
		t.Fatalf("reference balance = %d (ok=%v), want 3000", cents, ok)
	}
	evs := ev.Drain()
	if hasKind(evs, EventCharge) || hasKind(evs, EventCredit) {
		t.Fatal("establishing the reference produced a balance event")
	}
	if ctr.BlockedWrites.Load() != 0 {
		t.Fatal("establishing the reference blocked a write")
	}
}
