package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const SignalPayloadSize = 32

// EncodeSignal serializes a trading signal into a fixed-size payload.
func EncodeSignal(dst []byte, sig schema.Signal) []byte {
	dst = grow(dst, SignalPayloadSize)

	binary.LittleEndian.PutUint32(dst[0:4], sig.SymbolID)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(sig.Strength))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(sig.Confidence))
	binary.LittleEndian.PutUint16(dst[12:14], uint16(sig.Urgency))
	binary.LittleEndian.PutUint16(dst[14:16], sig.Flags)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(sig.Price))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(sig.Qty))

	return dst
}

// DecodeSignal parses a fixed-size trading signal payload.
func DecodeSignal(src []byte) (schema.Signal, bool) {
	if len(src) < SignalPayloadSize {
		return schema.Signal{}, false
	}
	return schema.Signal{
		SymbolID:   binary.LittleEndian.Uint32(src[0:4]),
		Strength:   int32(binary.LittleEndian.Uint32(src[4:8])),
		Confidence: int32(binary.LittleEndian.Uint32(src[8:12])),
		Urgency:    schema.SignalUrgency(binary.LittleEndian.Uint16(src[12:14])),
		Flags:      binary.LittleEndian.Uint16(src[14:16]),
		Price:      schema.Price(int64(binary.LittleEndian.Uint64(src[16:24]))),
		Qty:        schema.Quantity(int64(binary.LittleEndian.Uint64(src[24:32]))),
	}, true
}
