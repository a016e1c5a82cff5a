// Package firmware loads update images for the local update channel.
//
// # Image Formats
//
// Two formats are accepted. A raw binary is the image itself, loaded at
// address 0. An Intel HEX file is a list of records of the form
//
//	:[LEN(2)][ADDR(4)][TYPE(2)][DATA(2*LEN)][CHECKSUM(2)]
//
// Records are decoded by github.com/marcinbor85/gohex: data (00), end of
// file (01), extended linear address (04) and start linear address (05).
// Overlapping records and bad checksums are rejected. Gaps between data
// records read as erased flash (0xFF).
//
// # Usage
//
//	img, err := firmware.Load("app.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	blocks := img.Blocks(firmware.BlockSize)
//	hash := img.Hash(firmware.BlockSize)
//
// The hash covers the image padded to a whole number of blocks, which is the
// byte range the device checks when a local session is finalized.
package firmware
