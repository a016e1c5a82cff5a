// Package secure protects update blocks sent over the local interface.
//
// Each block is encrypted in counter mode and authenticated with a keyed
// hash truncated to four bytes. The counter is derived from the device
// identifier and the block id, so every block of an image uses a distinct
// keystream. Extract always verifies the tag before decrypting.
//
// A frame is laid out as:
//
//	session_id(4) | block_id(2) | ciphertext(210) | tag(4)
//
// Key id 0 selects the unauthenticated path: the payload is copied in clear
// and the tag is zero. It exists for bench testing only.
package secure
