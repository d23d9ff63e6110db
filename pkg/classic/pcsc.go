package classic

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ebfe/scard"
)

// Connection wraps a PC/SC card connection.
type Connection struct {
	ctx       *scard.Context
	Card      *scard.Card
	Reader    string
	ReaderIdx int
}

// ListReaders returns the names of the attached PC/SC readers.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("ListReaders failed: %w", err)
	}
	return readers, nil
}

// ResolveReader maps a reader selector to an index into readers. The
// selector is either a 0-based index or a case-insensitive substring of
// a reader name. An empty selector picks reader 0.
func ResolveReader(readers []string, sel string) (int, error) {
	if len(readers) == 0 {
		return 0, fmt.Errorf("no readers found")
	}
	if sel == "" {
		return 0, nil
	}
	if idx, err := strconv.Atoi(sel); err == nil {
		if idx < 0 || idx >= len(readers) {
			return 0, fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
		}
		return idx, nil
	}
	for i, r := range readers {
		if strings.Contains(strings.ToLower(r), strings.ToLower(sel)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no reader matches %q", sel)
}

// Connect establishes a connection to a card reader.
//
// Parameters:
//   - readerIndex: Index of the reader to use (0-based)
//
// Returns:
//   - Connection struct with context and card
//   - Error if connection fails
func Connect(readerIndex int) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}

	reader := readers[readerIndex]
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	return &Connection{
		ctx:       ctx,
		Card:      card,
		Reader:    reader,
		ReaderIdx: readerIndex,
	}, nil
}

// WaitForCard blocks until a card is present in the connection's reader.
func (c *Connection) WaitForCard(timeout time.Duration) error {
	if c == nil || c.ctx == nil {
		return fmt.Errorf("connection not established")
	}
	states := []scard.ReaderState{
		{Reader: c.Reader, CurrentState: scard.StateUnaware},
	}
	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return ErrNotPresent
		}
		if err := c.ctx.GetStatusChange(states, remain); err != nil {
			return fmt.Errorf("GetStatusChange failed: %w", err)
		}
		if states[0].EventState&scard.StatePresent != 0 {
			return nil
		}
		states[0].CurrentState = states[0].EventState
	}
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	if c.Card != nil {
		_ = c.Card.Disconnect(scard.LeaveCard)
	}
	if c.ctx != nil {
		_ = c.ctx.Release()
	}
}

// Transmit sends an APDU to the card (implements Card interface).
func (c *Connection) Transmit(apdu []byte) ([]byte, error) {
	if c == nil || c.Card == nil {
		return nil, fmt.Errorf("connection not established")
	}
	return c.Card.Transmit(apdu)
}
