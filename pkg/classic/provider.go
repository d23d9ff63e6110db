package classic

import "bytes"

// Provider display names recognized by DetectProvider.
const (
	ProviderCSC     = "CSC ServiceWorks"
	ProviderUBest   = "U-Best Wash"
	ProviderUnknown = "Unknown"
)

// DetectProvider fingerprints the card operator from the image. CSC
// ServiceWorks cards carry the 0x01 0x01 signature in block 2; U-Best
// Wash cards carry their name in ASCII in block 1.
func DetectProvider(img *Image) string {
	if img.Valid[MetaBlock] {
		b := img.Blocks[MetaBlock]
		if b[0] == 0x01 && b[1] == 0x01 {
			return ProviderCSC
		}
	}
	if img.Valid[1] && bytes.Contains(img.Blocks[1][:], []byte("UBESTWASH")) {
		return ProviderUBest
	}
	return ProviderUnknown
}
