package classic

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadNFCFile loads a Flipper NFC container. Only 'Block N:' lines
// feed the image; header and comment lines are skipped. A '??' byte
// pair marks the block unknown: its bytes are kept as 0xFF placeholders
// but the block stays invalid. Blocks with fewer than 16 parseable
// bytes stay invalid too.
func ReadNFCFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img := &Image{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parseBlockLine(scanner.Text(), img)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if img.ValidCount() == 0 {
		return nil, fmt.Errorf("%s: no card blocks found", path)
	}
	return img, nil
}

// parseBlockLine applies one 'Block N: ...' line to the image. Other
// lines are ignored.
func parseBlockLine(line string, img *Image) {
	rest, ok := strings.CutPrefix(line, "Block ")
	if !ok {
		return
	}
	numStr, data, ok := strings.Cut(rest, ":")
	if !ok {
		return
	}
	num, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil || num < 0 || num >= BlockCount {
		return
	}
	var blk Block
	count := 0
	unknown := false
	for _, tok := range strings.Fields(data) {
		if count >= BlockSize {
			break
		}
		if tok == "??" {
			blk[count] = 0xFF
			count++
			unknown = true
			continue
		}
		b, ok := parseHexByte(tok)
		if !ok {
			return
		}
		blk[count] = b
		count++
	}
	if count == BlockSize {
		img.Blocks[num] = blk
		img.Valid[num] = !unknown
	}
}

func parseHexByte(tok string) (byte, bool) {
	if len(tok) != 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(tok, 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// WriteNFCFile writes the image as a Flipper NFC container. Invalid
// blocks are written as '??' pairs.
func WriteNFCFile(path string, img *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeNFC(f, img)
}

func writeNFC(w io.Writer, img *Image) error {
	uid := img.UID()
	_, err := fmt.Fprintln(w, `Filetype: Flipper NFC device
Version: 2
# Nfc device type can be UID, Mifare Ultralight, Mifare Classic, Bank card
Device type: Mifare Classic
# UID, ATQA and SAK are common for all formats`)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "UID: %02X %02X %02X %02X\n", uid[0], uid[1], uid[2], uid[3])
	fmt.Fprintln(w, "ATQA: 04 00")
	fmt.Fprintln(w, "SAK: 08")
	fmt.Fprintln(w, "# Mifare Classic specific data")
	fmt.Fprintln(w, "Mifare Classic type: 1K")
	fmt.Fprintln(w, "Data format version: 2")
	fmt.Fprintln(w, "# Mifare Classic blocks, '??' means unknown data")
	for i := 0; i < BlockCount; i++ {
		if _, err := fmt.Fprintf(w, "Block %d: %s\n", i, blockLine(img, i)); err != nil {
			return err
		}
	}
	return nil
}

func blockLine(img *Image, i int) string {
	var sb strings.Builder
	for j := 0; j < BlockSize; j++ {
		if j > 0 {
			sb.WriteByte(' ')
		}
		if img.Valid[i] {
			fmt.Fprintf(&sb, "%02X", img.Blocks[i][j])
		} else {
			sb.WriteString("??")
		}
	}
	return sb.String()
}

// WriteShadow writes the blocks whose persisted bytes differ from the
// original, one 'Block N:' line each. Readers of the historical format
// expect a trailing space after the last byte pair; it is kept.
func WriteShadow(path string, store *Store) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# LaundR Shadow File")
	fmt.Fprintln(w, "# Modifications to apply on top of original .nfc file")
	fmt.Fprintln(w, "# Only modified blocks are stored")
	fmt.Fprintln(w)

	orig, pers := store.Original(), store.Persisted()
	for i := 0; i < BlockCount; i++ {
		if !pers.Valid[i] {
			continue
		}
		if orig.Valid[i] && orig.Blocks[i] == pers.Blocks[i] {
			continue
		}
		fmt.Fprintf(w, "Block %d: ", i)
		for j := 0; j < BlockSize; j++ {
			fmt.Fprintf(w, "%02X ", pers.Blocks[i][j])
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// ReadShadow applies a shadow file's block lines as persisted edits on
// top of the loaded image. A missing file is not an error; the caller
// simply has no stored modifications.
func ReadShadow(path string, store *Store) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	overlay := &Image{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parseBlockLine(scanner.Text(), overlay)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for i := 0; i < BlockCount; i++ {
		if overlay.Valid[i] {
			store.ApplyPersistedEdit(i, overlay.Blocks[i])
		}
	}
	return nil
}
