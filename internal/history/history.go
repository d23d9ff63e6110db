// Package history keeps a durable record of finished emulation
// sessions in a bbolt database: one entry per session transaction, a
// per-card aggregate, and lifetime totals. Everything the engine needs
// at runtime stays in memory; this store only absorbs teardown records
// and serves the stats queries.
package history

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sworrl/LaundR/pkg/engine"
)

var (
	bucketCards        = []byte("cards")
	bucketTransactions = []byte("transactions")
	bucketTotals       = []byte("totals")
)

var totalsKey = []byte("lifetime")

// StorageError wraps a history database fault. Callers treat the store
// as optional: on a StorageError they continue without history.
type StorageError struct {
	Op    string
	Path  string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// CardStats is the per-card aggregate kept in the cards bucket.
type CardStats struct {
	UID         [4]byte
	Provider    string
	FirstSeen   time.Time
	LastSeen    time.Time
	LastBalance uint16
}

// Totals are the lifetime counters across every recorded session.
// CentsProtected sums the charges that Hack-mode sessions rolled back.
type Totals struct {
	Sessions       uint64
	Transactions   uint64
	BlockedWrites  uint64
	CentsProtected uint64
}

// DB is the history store. Safe for concurrent use; bbolt serializes
// the writes.
type DB struct {
	path string
	db   *bolt.DB
}

// Open opens or creates the history database and ensures the buckets
// exist.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Cause: err}
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCards, bucketTransactions, bucketTotals} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, &StorageError{Op: "init", Path: path, Cause: err}
	}
	return &DB{path: path, db: bdb}, nil
}

// Close releases the database file.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// RecordSession appends the session to the transaction log and folds
// it into the per-card and lifetime aggregates, all in one write
// transaction. It implements engine.HistoryRecorder.
func (d *DB) RecordSession(rec engine.SessionRecord) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		txs := tx.Bucket(bucketTransactions)
		seq, err := txs.NextSequence()
		if err != nil {
			return fmt.Errorf("sequence: %w", err)
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		if err := txs.Put(key[:], encodeSession(rec)); err != nil {
			return fmt.Errorf("put transaction: %w", err)
		}

		cards := tx.Bucket(bucketCards)
		stats := CardStats{UID: rec.UID, FirstSeen: rec.When}
		if v := cards.Get(rec.UID[:]); v != nil {
			prev, err := decodeCardStats(rec.UID, v)
			if err != nil {
				return err
			}
			stats.FirstSeen = prev.FirstSeen
		}
		stats.Provider = rec.Provider
		stats.LastSeen = rec.When
		stats.LastBalance = rec.BalanceAfter
		if err := cards.Put(rec.UID[:], encodeCardStats(stats)); err != nil {
			return fmt.Errorf("put card: %w", err)
		}

		totals := Totals{}
		if v := tx.Bucket(bucketTotals).Get(totalsKey); v != nil {
			prev, err := decodeTotals(v)
			if err != nil {
				return err
			}
			totals = prev
		}
		totals.Sessions++
		totals.Transactions += uint64(rec.Counters.Transactions)
		totals.BlockedWrites += uint64(rec.Counters.BlockedWrites)
		if rec.Mode == engine.ModeHack && rec.Charge < 0 {
			totals.CentsProtected += uint64(-int64(rec.Charge))
		}
		if err := tx.Bucket(bucketTotals).Put(totalsKey, encodeTotals(totals)); err != nil {
			return fmt.Errorf("put totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "record", Path: d.path, Cause: err}
	}
	return nil
}

// Transactions returns the most recent session records, newest first.
// A limit of zero or less returns everything.
func (d *DB) Transactions(limit int) ([]engine.SessionRecord, error) {
	var out []engine.SessionRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTransactions).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			rec, err := decodeSession(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Path: d.path, Cause: err}
	}
	return out, nil
}

// CardStats returns the aggregate for one card. ok is false when the
// card has never been recorded.
func (d *DB) CardStats(uid [4]byte) (CardStats, bool, error) {
	var out CardStats
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCards).Get(uid[:])
		if v == nil {
			return nil
		}
		stats, err := decodeCardStats(uid, v)
		if err != nil {
			return err
		}
		out = stats
		ok = true
		return nil
	})
	if err != nil {
		return CardStats{}, false, &StorageError{Op: "card", Path: d.path, Cause: err}
	}
	return out, ok, nil
}

// Totals returns the lifetime counters. A fresh database reports
// zeros.
func (d *DB) Totals() (Totals, error) {
	var out Totals
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTotals).Get(totalsKey)
		if v == nil {
			return nil
		}
		t, err := decodeTotals(v)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return Totals{}, &StorageError{Op: "totals", Path: d.path, Cause: err}
	}
	return out, nil
}

func encodeSession(r engine.SessionRecord) []byte {
	// Layout:
	// when_unix i64le | uid 4 | mode u8 | balance_before u16le |
	// balance_after u16le | charge i16le | reads u32le | writes u32le |
	// blocked u32le | transactions u32le | provider_len u16le | provider
	out := make([]byte, 37+len(r.Provider))
	binary.LittleEndian.PutUint64(out[0:8], uint64(r.When.Unix()))
	copy(out[8:12], r.UID[:])
	out[12] = byte(r.Mode)
	binary.LittleEndian.PutUint16(out[13:15], r.BalanceBefore)
	binary.LittleEndian.PutUint16(out[15:17], r.BalanceAfter)
	binary.LittleEndian.PutUint16(out[17:19], uint16(r.Charge))
	binary.LittleEndian.PutUint32(out[19:23], r.Counters.Reads)
	binary.LittleEndian.PutUint32(out[23:27], r.Counters.Writes)
	binary.LittleEndian.PutUint32(out[27:31], r.Counters.BlockedWrites)
	binary.LittleEndian.PutUint32(out[31:35], r.Counters.Transactions)
	binary.LittleEndian.PutUint16(out[35:37], uint16(len(r.Provider)))
	copy(out[37:], r.Provider)
	return out
}

func decodeSession(b []byte) (engine.SessionRecord, error) {
	if len(b) < 37 {
		return engine.SessionRecord{}, fmt.Errorf("transaction record: truncated")
	}
	var r engine.SessionRecord
	r.When = time.Unix(int64(binary.LittleEndian.Uint64(b[0:8])), 0)
	copy(r.UID[:], b[8:12])
	r.Mode = engine.Mode(b[12])
	r.BalanceBefore = binary.LittleEndian.Uint16(b[13:15])
	r.BalanceAfter = binary.LittleEndian.Uint16(b[15:17])
	r.Charge = int16(binary.LittleEndian.Uint16(b[17:19]))
	r.Counters.Reads = binary.LittleEndian.Uint32(b[19:23])
	r.Counters.Writes = binary.LittleEndian.Uint32(b[23:27])
	r.Counters.BlockedWrites = binary.LittleEndian.Uint32(b[27:31])
	r.Counters.Transactions = binary.LittleEndian.Uint32(b[31:35])
	plen := int(binary.LittleEndian.Uint16(b[35:37]))
	if 37+plen != len(b) {
		return engine.SessionRecord{}, fmt.Errorf("transaction record: bad provider len")
	}
	r.Provider = string(b[37:])
	return r, nil
}

func encodeCardStats(s CardStats) []byte {
	// Layout:
	// first_seen_unix i64le | last_seen_unix i64le | last_balance u16le |
	// provider_len u16le | provider
	out := make([]byte, 20+len(s.Provider))
	binary.LittleEndian.PutUint64(out[0:8], uint64(s.FirstSeen.Unix()))
	binary.LittleEndian.PutUint64(out[8:16], uint64(s.LastSeen.Unix()))
	binary.LittleEndian.PutUint16(out[16:18], s.LastBalance)
	binary.LittleEndian.PutUint16(out[18:20], uint16(len(s.Provider)))
	copy(out[20:], s.Provider)
	return out
}

func decodeCardStats(uid [4]byte, b []byte) (CardStats, error) {
	if len(b) < 20 {
		return CardStats{}, fmt.Errorf("card record: truncated")
	}
	s := CardStats{UID: uid}
	s.FirstSeen = time.Unix(int64(binary.LittleEndian.Uint64(b[0:8])), 0)
	s.LastSeen = time.Unix(int64(binary.LittleEndian.Uint64(b[8:16])), 0)
	s.LastBalance = binary.LittleEndian.Uint16(b[16:18])
	plen := int(binary.LittleEndian.Uint16(b[18:20]))
	if 20+plen != len(b) {
		return CardStats{}, fmt.Errorf("card record: bad provider len")
	}
	s.Provider = string(b[20:])
	return s, nil
}

func encodeTotals(t Totals) []byte {
	// Layout:
	// sessions u64le | transactions u64le | blocked_writes u64le |
	// cents_protected u64le
	out := make([]byte, 32)
	binary.LittleEndian.PutUint64(out[0:8], t.Sessions)
	binary.LittleEndian.PutUint64(out[8:16], t.Transactions)
	binary.LittleEndian.PutUint64(out[16:24], t.BlockedWrites)
	binary.LittleEndian.PutUint64(out[24:32], t.CentsProtected)
	return out
}

func decodeTotals(b []byte) (Totals, error) {
	if len(b) != 32 {
		return Totals{}, fmt.Errorf("totals record: truncated")
	}
	return Totals{
		Sessions:       binary.LittleEndian.Uint64(b[0:8]),
		Transactions:   binary.LittleEndian.Uint64(b[8:16]),
		BlockedWrites:  binary.LittleEndian.Uint64(b[16:24]),
		CentsProtected: binary.LittleEndian.Uint64(b[24:32]),
	}, nil
}
