package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const MarketDataPayloadSize = 66

// EncodeMarketData serializes market data into a fixed-size payload.
func EncodeMarketData(dst []byte, md schema.MarketData) []byte {
	dst = grow(dst, MarketDataPayloadSize)

	binary.LittleEndian.PutUint32(dst[0:4], md.SymbolID)
	binary.LittleEndian.PutUint16(dst[4:6], uint16(md.Kind))
	binary.LittleEndian.PutUint16(dst[6:8], uint16(md.Side))
	binary.LittleEndian.PutUint16(dst[8:10], md.Flags)
	binary.LittleEndian.PutUint64(dst[10:18], md.RefID)
	binary.LittleEndian.PutUint64(dst[18:26], uint64(md.Price))
	binary.LittleEndian.PutUint64(dst[26:34], uint64(md.Size))
	binary.LittleEndian.PutUint64(dst[34:42], uint64(md.BidPrice))
	binary.LittleEndian.PutUint64(dst[42:50], uint64(md.BidSize))
	binary.LittleEndian.PutUint64(dst[50:58], uint64(md.AskPrice))
	binary.LittleEndian.PutUint64(dst[58:66], uint64(md.AskSize))

	return dst
}

// DecodeMarketData parses a fixed-size market data payload.
func DecodeMarketData(src []byte) (schema.MarketData, bool) {
	if len(src) < MarketDataPayloadSize {
		return schema.MarketData{}, false
	}
	return schema.MarketData{
		SymbolID: binary.LittleEndian.Uint32(src[0:4]),
		Kind:     schema.MarketDataKind(binary.LittleEndian.Uint16(src[4:6])),
		Side:     schema.OrderSide(binary.LittleEndian.Uint16(src[6:8])),
		Flags:    binary.LittleEndian.Uint16(src[8:10]),
		RefID:    binary.LittleEndian.Uint64(src[10:18]),
		Price:    schema.Price(int64(binary.LittleEndian.Uint64(src[18:26]))),
		Size:     schema.Quantity(int64(binary.LittleEndian.Uint64(src[26:34]))),
		BidPrice: schema.Price(int64(binary.LittleEndian.Uint64(src[34:42]))),
		BidSize:  schema.Quantity(int64(binary.LittleEndian.Uint64(src[42:50]))),
		AskPrice: schema.Price(int64(binary.LittleEndian.Uint64(src[50:58]))),
		AskSize:  schema.Quantity(int64(binary.LittleEndian.Uint64(src[58:66]))),
	}, true
}
