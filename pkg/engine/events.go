package engine

import (
	"fmt"

	"github.com/sworrl/LaundR/pkg/classic"
)

// EventKind discriminates monitor events.
type EventKind uint8

const (
	// EventBlockWrite is any observed change to a non-trailer block.
	EventBlockWrite EventKind = iota
	// EventCharge is a valid-to-valid balance decrease.
	EventCharge
	// EventCredit is a valid-to-valid balance increase.
	EventCredit
	// EventRollback is a Hack-mode in-place restore of the balance
	// block after a charge.
	EventRollback
	// EventRotation is a UID rotation.
	EventRotation
	// EventWriteKeyNonce marks a captured Key B authentication
	// attempt (Key B guards write access).
	EventWriteKeyNonce
)

// Event is one monitor observation. The struct carries no pointers so
// appending to the ring never allocates.
type Event struct {
	Kind   EventKind
	Tick   int // monitor tick that produced the event
	Block  int
	Old    classic.Block // block bytes before (writes, rollback, rotation)
	New    classic.Block // block bytes after
	Before uint16        // balance in cents before (charge, credit)
	After  uint16        // balance in cents after
	Delta  int32         // signed cents for charge/credit, count for nonce events
}

func (e Event) String() string {
	switch e.Kind {
	case EventBlockWrite:
		return fmt.Sprintf("write block %d", e.Block)
	case EventCharge:
		return fmt.Sprintf("charge %s (%s -> %s)", formatDelta(e.Delta),
			classic.FormatCents(e.Before), classic.FormatCents(e.After))
	case EventCredit:
		return fmt.Sprintf("credit %s (%s -> %s)", formatDelta(e.Delta),
			classic.FormatCents(e.Before), classic.FormatCents(e.After))
	case EventRollback:
		return fmt.Sprintf("rollback block %d, balance restored to %s",
			e.Block, classic.FormatCents(e.Before))
	case EventRotation:
		return fmt.Sprintf("uid rotated to %02X%02X%02X%02X",
			e.New[0], e.New[1], e.New[2], e.New[3])
	case EventWriteKeyNonce:
		return fmt.Sprintf("write-key nonce captured (%d total)", e.Delta)
	}
	return fmt.Sprintf("event(%d)", uint8(e.Kind))
}

func formatDelta(cents int32) string {
	if cents < 0 {
		return "-" + classic.FormatCents(uint16(-cents))
	}
	return "+" + classic.FormatCents(uint16(cents))
}

// EventLog is a fixed-capacity ring of monitor events. The monitor
// appends during ticks and the session drains at teardown; both run on
// the poll goroutine, so the log needs no locking. Overflow drops the
// oldest event and counts the drop.
type EventLog struct {
	buf     []Event
	head    int
	n       int
	dropped uint32
}

// NewEventLog returns a ring holding up to capacity events. A capacity
// of zero or less selects the default of 256.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventLog{buf: make([]Event, capacity)}
}

// Append records an event, evicting the oldest entry when full.
func (l *EventLog) Append(e Event) {
	if l.n == len(l.buf) {
		l.buf[l.head] = e
		l.head = (l.head + 1) % len(l.buf)
		l.dropped++
		return
	}
	l.buf[(l.head+l.n)%len(l.buf)] = e
	l.n++
}

// Len reports the number of buffered events.
func (l *EventLog) Len() int { return l.n }

// Dropped reports how many events were evicted since the last Reset.
func (l *EventLog) Dropped() uint32 { return l.dropped }

// Drain returns the buffered events oldest-first and empties the ring.
// The drop counter is left for the caller to inspect.
func (l *EventLog) Drain() []Event {
	if l.n == 0 {
		return nil
	}
	out := make([]Event, l.n)
	for i := range out {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	l.head, l.n = 0, 0
	return out
}

// Reset empties the ring and clears the drop counter.
func (l *EventLog) Reset() {
	l.head, l.n, l.dropped = 0, 0, 0
}
