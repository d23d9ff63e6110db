package classic

import (
	"errors"
	"fmt"
	"time"
)

// ErrAllKeysFailed reports that every candidate key was rejected for a
// block. The sector is locked against the current dictionary.
var ErrAllKeysFailed = errors.New("all candidate keys failed")

// FoundKey records the credential that worked for a block.
type FoundKey struct {
	Key     Key
	KeyType byte
}

// Trial walks an ordered key list against card blocks. Reads try Key A
// before Key B for each candidate; writes try Key B first, since value
// blocks are normally write-gated on Key B. A key rejection moves to the
// next candidate, a transport fault stops the walk.
type Trial struct {
	reader *Reader
	keys   []Key

	// Presence poll budget: Attempts tries spaced Delay apart.
	Attempts int
	Delay    time.Duration
}

// NewTrial builds a trial engine over the reader with the given candidate
// list, in priority order.
func NewTrial(r *Reader, keys []Key) *Trial {
	return &Trial{
		reader:   r,
		keys:     keys,
		Attempts: 100,
		Delay:    100 * time.Millisecond,
	}
}

// WaitPresent polls until a tag answers the UID request or the attempt
// budget runs out. GET DATA needs no key, so this works on unknown cards.
func (t *Trial) WaitPresent() ([4]byte, error) {
	for attempt := 0; attempt < t.Attempts; attempt++ {
		uid, err := t.reader.UID()
		if err == nil {
			return uid, nil
		}
		if !IsNotPresent(err) {
			return [4]byte{}, err
		}
		time.Sleep(t.Delay)
	}
	return [4]byte{}, ErrNotPresent
}

// FindReadKey walks the candidate list until one key reads the block.
func (t *Trial) FindReadKey(block int) (FoundKey, Block, error) {
	for _, key := range t.keys {
		for _, kt := range []byte{KeyTypeA, KeyTypeB} {
			data, err := t.reader.AuthRead(block, kt, key)
			if err == nil {
				return FoundKey{Key: key, KeyType: kt}, data, nil
			}
			if IsAuthFailure(err) {
				continue
			}
			return FoundKey{}, Block{}, err
		}
	}
	return FoundKey{}, Block{}, fmt.Errorf("read block %d: %w", block, ErrAllKeysFailed)
}

// FindWriteKey walks the candidate list until one key writes data to the
// block. A hint from an earlier block in the same operation is tried
// before the list; sectors provisioned together usually share keys.
func (t *Trial) FindWriteKey(block int, data Block, hint *FoundKey) (FoundKey, error) {
	if hint != nil {
		err := t.reader.AuthWrite(block, hint.KeyType, hint.Key, data)
		if err == nil {
			return *hint, nil
		}
		if !IsAuthFailure(err) {
			return FoundKey{}, err
		}
	}
	for _, key := range t.keys {
		for _, kt := range []byte{KeyTypeB, KeyTypeA} {
			err := t.reader.AuthWrite(block, kt, key, data)
			if err == nil {
				return FoundKey{Key: key, KeyType: kt}, nil
			}
			if IsAuthFailure(err) {
				continue
			}
			return FoundKey{}, err
		}
	}
	return FoundKey{}, fmt.Errorf("write block %d: %w", block, ErrAllKeysFailed)
}

// ExtractTrailerKeyB reads a sector trailer using the backdoor key list
// and returns Key B from trailer bytes 10-15, plus the credential that
// opened the trailer. Clone chips that honor a backdoor key expose their
// trailers in cleartext. Retries the whole round while no key answers,
// up to the presence budget.
func (t *Trial) ExtractTrailerKeyB(sector int) (Key, FoundKey, error) {
	trailer := TrailerOf(sector)
	keys := BackdoorKeys()
	for attempt := 0; attempt < t.Attempts; attempt++ {
		for _, key := range keys {
			for _, kt := range []byte{KeyTypeA, KeyTypeB} {
				data, err := t.reader.AuthRead(trailer, kt, key)
				if err == nil {
					var keyB Key
					copy(keyB[:], data[10:16])
					return keyB, FoundKey{Key: key, KeyType: kt}, nil
				}
				if IsAuthFailure(err) {
					continue
				}
				return Key{}, FoundKey{}, err
			}
		}
		time.Sleep(t.Delay)
	}
	return Key{}, FoundKey{}, fmt.Errorf("sector %d trailer: %w", sector, ErrAllKeysFailed)
}

// ReadCard dumps every readable block. The read key is found once per
// sector and reused for the sector's other blocks. Trailers read key
// material back as zeros, so the found key is patched into its half of
// the trailer. Sectors with no working key leave their blocks invalid.
func (t *Trial) ReadCard() (*Image, error) {
	img := &Image{}
	for sector := 0; sector < SectorCount; sector++ {
		trailer := TrailerOf(sector)
		first := trailer - 3

		fk, data, err := t.FindReadKey(first)
		if err != nil {
			if errors.Is(err, ErrAllKeysFailed) {
				continue
			}
			return nil, err
		}
		img.Blocks[first] = data
		img.Valid[first] = true

		for blk := first + 1; blk <= trailer; blk++ {
			data, err := t.reader.AuthRead(blk, fk.KeyType, fk.Key)
			if err != nil {
				if IsAuthFailure(err) {
					continue
				}
				return nil, err
			}
			if IsTrailer(blk) {
				if fk.KeyType == KeyTypeA {
					copy(data[0:6], fk.Key[:])
				} else {
					copy(data[10:16], fk.Key[:])
				}
			}
			img.Blocks[blk] = data
			img.Valid[blk] = true
		}
	}
	return img, nil
}

// WriteImage writes every valid block of img to the card, sector by
// sector, data blocks before the sector trailer. Block 0 is skipped
// unless writeManufacturer is set; only magic gen2 cards accept it.
// Locked blocks are skipped and reported through the returned error
// while the rest of the image still goes out.
func (t *Trial) WriteImage(img *Image, writeManufacturer bool) (int, error) {
	written := 0
	var lastErr error
	for sector := 0; sector < SectorCount; sector++ {
		var hint *FoundKey
		trailer := TrailerOf(sector)
		for blk := trailer - 3; blk <= trailer; blk++ {
			if !img.Valid[blk] {
				continue
			}
			if blk == ManufacturerBlock && !writeManufacturer {
				continue
			}
			fk, err := t.FindWriteKey(blk, img.Blocks[blk], hint)
			if err != nil {
				if errors.Is(err, ErrAllKeysFailed) {
					lastErr = err
					continue
				}
				return written, err
			}
			hint = &fk
			written++
		}
	}
	return written, lastErr
}
