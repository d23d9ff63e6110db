package engine

import (
	"github.com/sworrl/LaundR/pkg/classic"
)

// Monitor is the transaction monitor. Every poll tick it diffs the
// live block table against a per-block baseline, turns divergence into
// events, and applies the active mode's balance policy. Write blocking
// is observation-based: the radio stack offers no approve/deny hook,
// so a charge is detected after the fact and undone in place, fast
// enough that the reader's next read already sees the old balance.
//
// All Monitor state belongs to the poll goroutine. Tick never
// allocates and never does I/O; anything expensive is deferred to the
// event log and session teardown.
type Monitor struct {
	store    *classic.Store
	counters *Counters
	events   *EventLog
	pool     *NoncePool
	inter    *Interrogation

	baseline [classic.BlockCount]classic.Block
	seen     [classic.BlockCount]bool

	tick           int
	lastBalance    uint16
	balanceKnown   bool
	lastBefore     uint16
	lastCharge     int16
	balanceChanged bool
	lastKeyB       int
}

// NewMonitor wires a monitor to the session's store, counters, event
// log, nonce pool, and interrogation accumulators.
func NewMonitor(store *classic.Store, counters *Counters, events *EventLog, pool *NoncePool, inter *Interrogation) *Monitor {
	return &Monitor{
		store:    store,
		counters: counters,
		events:   events,
		pool:     pool,
		inter:    inter,
	}
}

// Arm prepares for a session: baselines are cleared so the first tick
// only seeds them, and the reference balance is taken from the
// persisted layer.
func (m *Monitor) Arm() {
	for i := range m.seen {
		m.seen[i] = false
	}
	m.tick = 0
	m.lastKeyB = 0
	m.lastBefore = 0
	m.lastCharge = 0
	m.balanceChanged = false
	m.balanceKnown = false
	if cents, ok := m.store.PersistedBalance(); ok {
		m.lastBalance = cents
		m.balanceKnown = true
	}
}

// Tick processes one observation of the live table under the given
// mode. The returned flag asks the session for a UID rotation; the
// rotation itself must not happen inside the tick.
func (m *Monitor) Tick(live *classic.Image, mode Mode) (rotate bool) {
	m.tick++
	for b := 0; b < classic.BlockCount; b++ {
		if classic.IsTrailer(b) || !live.Valid[b] {
			continue
		}
		if !m.seen[b] {
			m.baseline[b] = live.Blocks[b]
			m.seen[b] = true
			continue
		}
		if live.Blocks[b] == m.baseline[b] {
			continue
		}
		m.counters.Writes.Add(1)
		m.inter.RecordWrite(b)
		m.events.Append(Event{
			Kind:  EventBlockWrite,
			Tick:  m.tick,
			Block: b,
			Old:   m.baseline[b],
			New:   live.Blocks[b],
		})
		m.baseline[b] = live.Blocks[b]
	}

	if live.Valid[classic.BalanceBlock] {
		if cur, ok := classic.Balance(live.Blocks[classic.BalanceBlock]); ok {
			rotate = m.applyBalance(live, cur, mode)
		}
		// An invalid complement means the balance is unknown this
		// tick, not zero. No event; the reference value stands.
	}

	if n := m.pool.KeyBCount(); n > m.lastKeyB {
		m.events.Append(Event{Kind: EventWriteKeyNonce, Tick: m.tick, Delta: int32(n)})
		m.lastKeyB = n
	}
	return rotate
}

// applyBalance dispatches a decoded live balance to the mode policy.
func (m *Monitor) applyBalance(live *classic.Image, cur uint16, mode Mode) bool {
	if !m.balanceKnown {
		m.lastBalance = cur
		m.balanceKnown = true
		return false
	}
	if cur == m.lastBalance {
		return false
	}
	change := int32(cur) - int32(m.lastBalance)
	m.lastBefore = m.lastBalance
	m.lastCharge = int16(change)

	if change < 0 {
		m.events.Append(Event{
			Kind:   EventCharge,
			Tick:   m.tick,
			Block:  classic.BalanceBlock,
			Before: m.lastBalance,
			After:  cur,
			Delta:  change,
		})
		switch mode {
		case ModeHack:
			m.counters.BlockedWrites.Add(1)
			m.rollBack(live)
			m.balanceChanged = true
			return true
		case ModeLegit:
			m.store.CommitLiveToPersisted(classic.BalanceBlock, classic.MirrorBlock)
			m.lastBalance = cur
			m.balanceChanged = true
		case ModeInterrogate:
			m.inter.MarkValueCandidate(classic.BalanceBlock)
			m.lastBalance = cur
		}
		return false
	}

	m.events.Append(Event{
		Kind:   EventCredit,
		Tick:   m.tick,
		Block:  classic.BalanceBlock,
		Before: m.lastBalance,
		After:  cur,
		Delta:  change,
	})
	switch mode {
	case ModeHack:
		// Credits were verified by the reader's own backend before it
		// wrote them; accept, then rotate like any balance change.
		m.store.CommitLiveToPersisted(classic.BalanceBlock, classic.MirrorBlock)
		m.lastBalance = cur
		m.balanceChanged = true
		return true
	case ModeLegit:
		m.store.CommitLiveToPersisted(classic.BalanceBlock, classic.MirrorBlock)
		m.lastBalance = cur
		m.balanceChanged = true
	case ModeInterrogate:
		m.inter.MarkValueCandidate(classic.BalanceBlock)
		m.lastBalance = cur
	}
	return false
}

// rollBack restores the persisted balance block and its mirror into
// the live table in place and resets every baseline, so the restore
// itself never reads back as a reader write on the next tick.
func (m *Monitor) rollBack(live *classic.Image) {
	p := m.store.Persisted()
	charged := live.Blocks[classic.BalanceBlock]
	if p.Valid[classic.BalanceBlock] {
		live.Blocks[classic.BalanceBlock] = p.Blocks[classic.BalanceBlock]
		live.Valid[classic.BalanceBlock] = true
	}
	if p.Valid[classic.MirrorBlock] {
		live.Blocks[classic.MirrorBlock] = p.Blocks[classic.MirrorBlock]
		live.Valid[classic.MirrorBlock] = true
	}
	for i := range m.seen {
		m.seen[i] = false
	}
	restored := m.lastBalance
	if cents, ok := m.store.PersistedBalance(); ok {
		restored = cents
	}
	m.lastBalance = restored
	m.events.Append(Event{
		Kind:   EventRollback,
		Tick:   m.tick,
		Block:  classic.BalanceBlock,
		Old:    charged,
		New:    live.Blocks[classic.BalanceBlock],
		Before: restored,
	})
}

// Disarm performs the final reconciliation at session stop: Hack
// discards any remaining live balance divergence, Legit folds every
// observed change into the persisted layer, Interrogate touches
// nothing.
func (m *Monitor) Disarm(mode Mode) {
	switch mode {
	case ModeHack:
		p := m.store.Persisted()
		live := m.store.Live()
		if p.Valid[classic.BalanceBlock] {
			live.Blocks[classic.BalanceBlock] = p.Blocks[classic.BalanceBlock]
		}
		if p.Valid[classic.MirrorBlock] {
			live.Blocks[classic.MirrorBlock] = p.Blocks[classic.MirrorBlock]
		}
	case ModeLegit:
		m.store.CommitLiveToPersisted()
	}
}

// Ticks returns the number of ticks processed since Arm.
func (m *Monitor) Ticks() int { return m.tick }

// LastCharge returns the signed cents of the most recent balance
// change, negative for a charge.
func (m *Monitor) LastCharge() int16 { return m.lastCharge }

// LastBefore returns the balance the most recent change moved from.
// Meaningful only when BalanceChanged reports true; in Legit mode the
// persisted layer has already absorbed the change by teardown, so this
// is the only place the pre-transaction value survives.
func (m *Monitor) LastBefore() uint16 { return m.lastBefore }

// BalanceChanged reports whether any valid balance movement was
// observed since Arm.
func (m *Monitor) BalanceChanged() bool { return m.balanceChanged }

// ReferenceBalance returns the balance the monitor currently measures
// changes against.
func (m *Monitor) ReferenceBalance() (uint16, bool) {
	return m.lastBalance, m.balanceKnown
}
