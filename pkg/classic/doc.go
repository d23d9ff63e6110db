/*
Package classic provides a library for reading, writing, and modeling
MIFARE Classic 1K laundry/vending payment cards.

The package consolidates the card-side functionality used by the laundr
tool: the 64-block card image model with its three storage layers
(original, persisted, live), the balance/counter value codec, provider
fingerprinting, curated key lists with a key-trial engine, Flipper-style
.nfc dump files and shadow diff files, and a PC/SC transport for
ACR122U-class readers.

# Card Layout

A MIFARE Classic 1K tag holds 1024 bytes as 64 blocks of 16 bytes,
grouped into 16 sectors of 4 blocks:

	Sector s = blocks 4s .. 4s+3
	Block 4s+3 is the sector trailer:
		bytes 0-5   Key A
		bytes 6-9   access bits
		bytes 10-15 Key B

Block 0 is the manufacturer block:

	bytes 0-3   UID (4-byte NUID)
	byte  4     BCC, the XOR of the four UID bytes
	bytes 5-15  SAK/ATQA and manufacturer data

Sector trailers never carry user data. Nothing in this package ever
diffs or value-decodes a trailer block.

# Value Blocks

Laundry operators store the card balance in a vendor value layout
(distinct from the MIFARE value-block command format). In block 4:

	bytes 0-1   balance in cents, little-endian
	bytes 2-3   transaction counter, little-endian
	bytes 4-5   bitwise complement of the balance
	bytes 6-7   bitwise complement of the counter
	bytes 8-9   balance mirror (same little-endian value)

A field is valid iff magnitude XOR complement == 0xFFFF. An invalid
field decodes as "unknown", never as zero and never as an error.
Block 8 duplicates block 4 in full; writers must keep the two in step.

# Metadata Block

Block 2 carries card metadata on CSC ServiceWorks cards:

	bytes 0-1   signature 0x01 0x01
	bytes 2-4   transaction id, 24-bit little-endian
	byte  5     refill count
	bytes 9-10  last refilled balance in cents, little-endian
	byte  15    XOR of bytes 0-14 (whole-block XOR is zero when intact)

# Reader Commands

Card access uses the pseudo-APDU set implemented by ACR122U-class
PC/SC readers:

	Load key:      FF 82 00 <slot> 06 <key(6)>
	Authenticate:  FF 86 00 00 05 01 00 <block> <keyType> <slot>
	Read block:    FF B0 00 <block> 10
	Write block:   FF D6 00 <block> 10 <data(16)>
	Get UID:       FF CA 00 00 00

keyType is 0x60 for Key A and 0x61 for Key B. Every response ends in a
two-byte status word; 0x9000 is success. Authentication failures on
these readers commonly surface as SW=0x6300.

# File Formats

ReadNFCFile and WriteNFCFile handle the Flipper NFC container:

	Filetype: Flipper NFC device
	Version: 2
	Device type: Mifare Classic
	UID: 12 34 56 79
	ATQA: 04 00
	SAK: 08
	Mifare Classic type: 1K
	Data format version: 2
	Block 0: 12 34 56 79 09 08 04 00 62 63 64 65 66 67 68 69
	...

A '??' byte pair marks an unknown byte; it reads as 0xFF (the usual
default for uncracked sectors). Shadow files carry only the blocks
whose persisted bytes differ from the original, one 'Block N: ...'
line each, and are applied on top of a full image.
*/
package classic
