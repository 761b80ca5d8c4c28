// Package codec serializes pipeline payloads into fixed-size little-endian
// records. Fixed layouts keep encode/decode allocation-free on the hot path.
package codec

func grow(dst []byte, size int) []byte {
	if cap(dst) < size {
		return make([]byte, size)
	}
	return dst[:size]
}
