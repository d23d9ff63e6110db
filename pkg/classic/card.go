package classic

import "fmt"

// Key type codes for the authenticate command.
const (
	KeyTypeA byte = 0x60
	KeyTypeB byte = 0x61
)

// KeySlot is the reader's volatile key slot used for all load/auth pairs.
const KeySlot byte = 0x00

// Card abstracts card transmit behavior for real PC/SC connections and
// test doubles.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Transmit sends an APDU to the card and extracts the status word.
// Returns (response_data, status_word, error).
// The response data does NOT include the trailing SW bytes.
func Transmit(card Card, apdu []byte) ([]byte, uint16, error) {
	resp, err := card.Transmit(apdu)
	if err != nil {
		return nil, 0, err
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("short response: %d bytes", len(resp))
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

// Reader drives MIFARE Classic commands through the ACR122U pseudo-APDU
// set. All block operations require a prior LoadKey/Authenticate pair for
// the block's sector.
type Reader struct {
	card Card
}

// NewReader wraps a card transport in a Classic command set.
func NewReader(card Card) *Reader {
	return &Reader{card: card}
}

// LoadKey stores a key in the reader's volatile key slot.
func (r *Reader) LoadKey(slot byte, key Key) error {
	apdu := make([]byte, 0, 11)
	apdu = append(apdu, 0xFF, 0x82, 0x00, slot, 0x06)
	apdu = append(apdu, key[:]...)
	_, sw, err := Transmit(r.card, apdu)
	if err != nil {
		return &ProtocolError{Op: "load key", Cause: err}
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0x82, SW: sw}
	}
	return nil
}

// Authenticate runs Crypto1 authentication against a block using the key
// previously stored in slot. A rejected key comes back as an AuthError;
// a broken exchange comes back as a ProtocolError.
func (r *Reader) Authenticate(block int, keyType byte, slot byte) error {
	apdu := []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, byte(block), keyType, slot}
	_, sw, err := Transmit(r.card, apdu)
	if err != nil {
		return &ProtocolError{Op: fmt.Sprintf("auth block %d", block), Cause: err}
	}
	if !SwOK(sw) {
		return &AuthError{Block: block, KeyType: keyType, Cause: &SWError{Cmd: 0x86, SW: sw}}
	}
	return nil
}

// ReadBlock reads one 16-byte block from an authenticated sector.
func (r *Reader) ReadBlock(block int) (Block, error) {
	var b Block
	apdu := []byte{0xFF, 0xB0, 0x00, byte(block), 0x10}
	data, sw, err := Transmit(r.card, apdu)
	if err != nil {
		return b, &ProtocolError{Op: fmt.Sprintf("read block %d", block), Cause: err}
	}
	if !SwOK(sw) {
		return b, &SWError{Cmd: 0xB0, SW: sw}
	}
	if len(data) != BlockSize {
		return b, &ProtocolError{Op: fmt.Sprintf("read block %d", block), Cause: fmt.Errorf("got %d bytes, want %d", len(data), BlockSize)}
	}
	copy(b[:], data)
	return b, nil
}

// WriteBlock writes one 16-byte block to an authenticated sector.
func (r *Reader) WriteBlock(block int, data Block) error {
	apdu := make([]byte, 0, 21)
	apdu = append(apdu, 0xFF, 0xD6, 0x00, byte(block), 0x10)
	apdu = append(apdu, data[:]...)
	_, sw, err := Transmit(r.card, apdu)
	if err != nil {
		return &ProtocolError{Op: fmt.Sprintf("write block %d", block), Cause: err}
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0xD6, SW: sw}
	}
	return nil
}

// UID retrieves the 4-byte card UID via ISO 7816 GET DATA (FF CA 00 00).
// Tries with Le=0x00 (wildcard) and Le=0x04. GET DATA needs no
// authentication, so failure means no tag is in the field.
func (r *Reader) UID() ([4]byte, error) {
	var uid [4]byte
	for _, le := range []byte{0x00, 0x04} {
		apdu := []byte{0xFF, 0xCA, 0x00, 0x00, le}
		data, sw, err := Transmit(r.card, apdu)
		if err == nil && SwOK(sw) && len(data) >= 4 {
			copy(uid[:], data[:4])
			return uid, nil
		}
	}
	return uid, ErrNotPresent
}

// AuthRead loads key, authenticates the block with it and reads the block.
func (r *Reader) AuthRead(block int, keyType byte, key Key) (Block, error) {
	if err := r.LoadKey(KeySlot, key); err != nil {
		return Block{}, err
	}
	if err := r.Authenticate(block, keyType, KeySlot); err != nil {
		return Block{}, err
	}
	return r.ReadBlock(block)
}

// AuthWrite loads key, authenticates the block with it and writes data.
func (r *Reader) AuthWrite(block int, keyType byte, key Key, data Block) error {
	if err := r.LoadKey(KeySlot, key); err != nil {
		return err
	}
	if err := r.Authenticate(block, keyType, KeySlot); err != nil {
		return err
	}
	return r.WriteBlock(block, data)
}
