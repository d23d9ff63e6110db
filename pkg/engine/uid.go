package engine

import "github.com/sworrl/LaundR/pkg/classic"

// RotateUID derives a fresh 4-byte UID from the tick source and
// installs it in block 0 of img, BCC included. The low bit of the last
// byte is forced to 1 so the UID can never be all zeros. Rotation must
// only happen between reader transactions; the session guarantees that
// by rotating on the poll goroutine right after the tick that asked
// for it.
func RotateUID(img *classic.Image, now func() uint32) [4]byte {
	tick := now()
	uid := [4]byte{
		byte(tick),
		byte(tick >> 8),
		byte(tick >> 16),
		byte(tick>>24) | 0x01,
	}
	img.SetUID(uid)
	return uid
}
