package engine

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ledgerHeader is the exact column layout of the transaction ledger.
// External tooling parses this file; the header is a wire contract.
const ledgerHeader = "timestamp,tx_num,uid,provider,balance_before_cents,balance_after_cents,charge_cents,mode,block_writes,total_reads,total_writes"

// AppendLedger appends one session row to the CSV ledger at path,
// writing the header first when the file is new or empty.
func AppendLedger(path string, rec SessionRecord) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat ledger: %w", err)
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(strings.Split(ledgerHeader, ",")); err != nil {
			f.Close()
			return fmt.Errorf("write ledger header: %w", err)
		}
	}
	if err := w.Write(ledgerRow(rec)); err != nil {
		f.Close()
		return fmt.Errorf("write ledger row: %w", err)
	}
	w.Flush()
	err = w.Error()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write ledger row: %w", err)
	}
	return nil
}

func ledgerRow(r SessionRecord) []string {
	return []string{
		strconv.FormatInt(r.When.Unix(), 10),
		strconv.FormatUint(uint64(r.Counters.Transactions), 10),
		uidString(r.UID),
		r.Provider,
		strconv.FormatUint(uint64(r.BalanceBefore), 10),
		strconv.FormatUint(uint64(r.BalanceAfter), 10),
		strconv.FormatInt(int64(r.Charge), 10),
		r.Mode.String(),
		strconv.FormatUint(uint64(r.Counters.Writes), 10),
		strconv.FormatUint(uint64(r.Counters.Reads), 10),
		strconv.FormatUint(uint64(r.Counters.Writes), 10),
	}
}
