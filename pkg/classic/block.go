package classic

// Card geometry constants for the MIFARE Classic 1K layout.
const (
	BlockSize   = 16 // Bytes per block
	BlockCount  = 64 // Blocks per card
	SectorCount = 16 // Sectors per card (4 blocks each)

	// Well-known block roles on laundry cards
	ManufacturerBlock = 0 // UID + BCC + SAK/ATQA
	MetaBlock         = 2 // Vendor metadata (signature, tx id, refills)
	BalanceBlock      = 4 // Balance/counter value block
	MirrorBlock       = 8 // Full copy of the balance block
)

// Block is one 16-byte card block.
type Block [BlockSize]byte

// Image is a full 64-block card with per-block validity. A block is
// invalid when its contents were never captured (unauthenticated
// sectors, '??' bytes in a dump file).
type Image struct {
	Blocks [BlockCount]Block
	Valid  [BlockCount]bool
}

// IsTrailer reports whether block b is a sector trailer.
func IsTrailer(b int) bool {
	return (b+1)%4 == 0
}

// SectorOf returns the sector containing block b.
func SectorOf(b int) int {
	return b / 4
}

// TrailerOf returns the trailer block index of a sector.
func TrailerOf(sector int) int {
	return sector*4 + 3
}

// BCC returns the manufacturer checksum byte, the XOR of the four UID
// bytes.
func BCC(uid [4]byte) byte {
	return uid[0] ^ uid[1] ^ uid[2] ^ uid[3]
}

// UID returns the 4-byte NUID from the manufacturer block.
func (img *Image) UID() [4]byte {
	var uid [4]byte
	copy(uid[:], img.Blocks[ManufacturerBlock][:4])
	return uid
}

// SetUID writes a new UID and its BCC into the manufacturer block and
// marks the block valid.
func (img *Image) SetUID(uid [4]byte) {
	copy(img.Blocks[ManufacturerBlock][:4], uid[:])
	img.Blocks[ManufacturerBlock][4] = BCC(uid)
	img.Valid[ManufacturerBlock] = true
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	out := *img
	return &out
}

// ValidCount returns the number of valid blocks.
func (img *Image) ValidCount() int {
	n := 0
	for _, v := range img.Valid {
		if v {
			n++
		}
	}
	return n
}
