package classic

import "encoding/binary"

var (
	cscKeyA   = Key{0xEE, 0xB7, 0x06, 0xFC, 0x71, 0x4F}
	factoryKB = Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

// MasterImage builds a complete provisioning image in the CSC
// ServiceWorks layout: a randomized UID, vendor metadata, the requested
// balance and counter in block 4 with a full mirror in block 8, a
// second purse block at 9, a randomized nine-character site code in
// block 13, and CSC trailers on every sector. The tick value seeds the
// UID and site code so two images built at different times differ.
func MasterImage(balanceCents, counter uint16, tick uint32) *Image {
	img := &Image{}

	// Manufacturer block: UID spread from the tick, low bit of the
	// last byte forced on so the UID is never all zero.
	b0 := Block{0x00, 0x00, 0x00, 0x00, 0x00, 0x08, 0x04, 0x00,
		0x04, 0xF0, 0x35, 0x6B, 0x3D, 0xB6, 0xE9, 0x90}
	uid := [4]byte{byte(tick), byte(tick >> 8), byte(tick >> 16), byte(tick>>24) | 0x01}
	copy(b0[:4], uid[:])
	b0[4] = BCC(uid)
	img.Blocks[0] = b0

	// Service bytes
	img.Blocks[1] = Block{0x30, 0x30, 0x00, 0x01, 0x00, 0x00, 0x01, 0x84,
		0x28, 0x30, 0x00, 0x00, 0x01, 0x11, 0xEE, 0x62}

	// Metadata block: tx id from the tick, refilled amount mirrors the
	// provisioned balance.
	meta := Block{}
	EncodeMeta(&meta, Meta{TxID: tick & 0xFFFFFF, Refills: 0x70, Refilled: balanceCents})
	img.Blocks[2] = meta

	img.Blocks[3] = trailerBlock(cscKeyA, [4]byte{0x78, 0x77, 0x88, 0x00}, factoryKB)

	// Balance purse and its full mirror. The mirror is a verbatim copy
	// of block 4, address tail included.
	img.Blocks[BalanceBlock] = purseBlock(balanceCents, counter, BalanceBlock)
	img.Blocks[7] = trailerBlock(cscKeyA, [4]byte{0x68, 0x77, 0x89, 0x00}, factoryKB)
	img.Blocks[MirrorBlock] = img.Blocks[BalanceBlock]

	// Secondary purse observed on fielded cards
	img.Blocks[9] = purseBlock(0x1650, 0x2BF0, 9)
	img.Blocks[10] = Block{0x30, 0x30, 0x00, 0x01, 0x00, 0x00, 0x01, 0x84,
		0x28, 0x30, 0x4E, 0x45, 0x54, 0x11, 0x00, 0x00}
	img.Blocks[11] = trailerBlock(cscKeyA, [4]byte{0x48, 0x77, 0x8B, 0x00}, factoryKB)

	img.Blocks[12] = Block{0x00, 0x00, 0x01, 0x02, 0xFF, 0xFF, 0xFE, 0xFD,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	// Site code: nine random alphanumerics in place of the issuing
	// location's real code.
	b13 := Block{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x02, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	const alphanum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for i := 0; i < 9; i++ {
		b13[i] = alphanum[(int(tick)+i*7)%36]
	}
	img.Blocks[13] = b13

	for sector := 3; sector < SectorCount; sector++ {
		img.Blocks[TrailerOf(sector)] = trailerBlock(cscKeyA, [4]byte{0x7F, 0x07, 0x88, 0x00}, factoryKB)
	}

	for i := range img.Valid {
		img.Valid[i] = true
	}
	return img
}

// purseBlock lays out a vendor purse block: balance and counter
// magnitudes, their complements, a mirror of both, and the MIFARE
// value-block address tail (addr, ~addr, addr, ~addr).
func purseBlock(cents, counter uint16, addr byte) Block {
	var b Block
	binary.LittleEndian.PutUint16(b[0:], cents)
	binary.LittleEndian.PutUint16(b[2:], counter)
	binary.LittleEndian.PutUint16(b[4:], ^cents)
	binary.LittleEndian.PutUint16(b[6:], ^counter)
	binary.LittleEndian.PutUint16(b[8:], cents)
	binary.LittleEndian.PutUint16(b[10:], counter)
	b[12], b[13], b[14], b[15] = addr, ^addr, addr, ^addr
	return b
}

// trailerBlock assembles a sector trailer from Key A, the four access
// bytes, and Key B.
func trailerBlock(keyA Key, access [4]byte, keyB Key) Block {
	var b Block
	copy(b[:6], keyA[:])
	copy(b[6:10], access[:])
	copy(b[10:], keyB[:])
	return b
}
