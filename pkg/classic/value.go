package classic

import "encoding/binary"

// Value field offsets inside the balance block. Each field is a 2-byte
// little-endian magnitude with its bitwise complement 4 bytes later.
const (
	balanceOffset    = 0 // magnitude 0-1, complement 4-5
	counterOffset    = 2 // magnitude 2-3, complement 6-7
	balanceMirrorOff = 8 // second copy of the balance magnitude
)

// DecodeValue decodes the value field at offset off: a little-endian
// uint16 magnitude with its bitwise complement at off+4. ok is false
// when the complement check fails; the magnitude is then meaningless
// and must be treated as unknown, not as zero.
func DecodeValue(b Block, off int) (v uint16, ok bool) {
	if off < 0 || off+6 > BlockSize {
		return 0, false
	}
	mag := binary.LittleEndian.Uint16(b[off : off+2])
	comp := binary.LittleEndian.Uint16(b[off+4 : off+6])
	return mag, mag^comp == 0xFFFF
}

// Balance decodes the card balance in cents from a balance block.
func Balance(b Block) (cents uint16, ok bool) {
	return DecodeValue(b, balanceOffset)
}

// Counter decodes the transaction counter from a balance block.
func Counter(b Block) (uint16, bool) {
	return DecodeValue(b, counterOffset)
}

// SetBalance writes a new balance into a balance block: magnitude,
// complement, and the mirror copy at offset 8. Counter bytes are left
// untouched. Callers that maintain a mirror block (block 8 on CSC
// cards) must copy the whole block there afterwards.
func SetBalance(b *Block, cents uint16) {
	binary.LittleEndian.PutUint16(b[balanceOffset:], cents)
	binary.LittleEndian.PutUint16(b[balanceOffset+4:], ^cents)
	binary.LittleEndian.PutUint16(b[balanceMirrorOff:], cents)
}

// SetCounter writes a new counter magnitude and complement.
func SetCounter(b *Block, count uint16) {
	binary.LittleEndian.PutUint16(b[counterOffset:], count)
	binary.LittleEndian.PutUint16(b[counterOffset+4:], ^count)
}

// Meta is the vendor metadata carried in block 2 of CSC-layout cards.
type Meta struct {
	TxID     uint32 // 24-bit transaction id
	Refills  uint8  // refill count
	Refilled uint16 // last refilled balance in cents
}

// DecodeMeta decodes the metadata block. ok is false when the
// signature bytes or the whole-block XOR checksum do not match.
func DecodeMeta(b Block) (Meta, bool) {
	if b[0] != 0x01 || b[1] != 0x01 {
		return Meta{}, false
	}
	var x byte
	for _, c := range b {
		x ^= c
	}
	if x != 0 {
		return Meta{}, false
	}
	m := Meta{
		TxID:     uint32(b[2]) | uint32(b[3])<<8 | uint32(b[4])<<16,
		Refills:  b[5],
		Refilled: binary.LittleEndian.Uint16(b[9:11]),
	}
	return m, true
}

// EncodeMeta writes the metadata fields and recomputes the checksum
// byte so the whole-block XOR is zero. Bytes not covered by Meta are
// preserved.
func EncodeMeta(b *Block, m Meta) {
	b[0], b[1] = 0x01, 0x01
	b[2] = byte(m.TxID)
	b[3] = byte(m.TxID >> 8)
	b[4] = byte(m.TxID >> 16)
	b[5] = m.Refills
	binary.LittleEndian.PutUint16(b[9:11], m.Refilled)
	var x byte
	for _, c := range b[:15] {
		x ^= c
	}
	b[15] = x
}
