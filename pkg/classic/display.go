package classic

import (
	"fmt"
	"io"
	"strings"
)

// FormatBlock renders a block as space-separated hex pairs.
func FormatBlock(b Block) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

// FormatCents renders a cent amount as dollars, e.g. 1250 -> "$12.50".
func FormatCents(cents uint16) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// PrintImage writes a block-per-line hex view of img to w, with a blank
// line between sectors. Unknown blocks render as ?? pairs, trailers are
// marked.
func PrintImage(w io.Writer, img *Image) {
	for i := 0; i < BlockCount; i++ {
		if i > 0 && i%4 == 0 {
			fmt.Fprintln(w)
		}
		line := strings.Repeat("?? ", BlockSize)
		line = line[:len(line)-1]
		if img.Valid[i] {
			line = FormatBlock(img.Blocks[i])
		}
		mark := ""
		if IsTrailer(i) {
			mark = "  (trailer)"
		}
		fmt.Fprintf(w, "Block %2d: %s%s\n", i, line, mark)
	}
}

// PrintSummary writes the decoded identity and purse state of img to w.
func PrintSummary(w io.Writer, img *Image) {
	uid := img.UID()
	fmt.Fprintf(w, "%-14s %02X %02X %02X %02X\n", "UID:", uid[0], uid[1], uid[2], uid[3])
	fmt.Fprintf(w, "%-14s %s\n", "Provider:", DetectProvider(img))

	if cents, ok := Balance(img.Blocks[BalanceBlock]); ok {
		fmt.Fprintf(w, "%-14s %s (%d cents)\n", "Balance:", FormatCents(cents), cents)
	} else {
		fmt.Fprintf(w, "%-14s unknown (checksum invalid)\n", "Balance:")
	}
	if mirror, ok := Balance(img.Blocks[MirrorBlock]); ok {
		fmt.Fprintf(w, "%-14s %s\n", "Mirror:", FormatCents(mirror))
	} else {
		fmt.Fprintf(w, "%-14s unknown\n", "Mirror:")
	}
	if count, ok := Counter(img.Blocks[BalanceBlock]); ok {
		fmt.Fprintf(w, "%-14s %d\n", "Counter:", count)
	}
	if meta, ok := DecodeMeta(img.Blocks[MetaBlock]); ok {
		fmt.Fprintf(w, "%-14s %d\n", "Tx ID:", meta.TxID)
		fmt.Fprintf(w, "%-14s %d\n", "Refills:", meta.Refills)
		fmt.Fprintf(w, "%-14s %s\n", "Last refill:", FormatCents(meta.Refilled))
	}
	fmt.Fprintf(w, "%-14s %d/%d\n", "Blocks known:", img.ValidCount(), BlockCount)
}
