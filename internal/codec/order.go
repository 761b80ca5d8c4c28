package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const OrderIntentPayloadSize = 40

// EncodeOrderIntent serializes an order intent into a fixed-size payload.
func EncodeOrderIntent(dst []byte, order schema.OrderIntent) []byte {
	dst = grow(dst, OrderIntentPayloadSize)

	binary.LittleEndian.PutUint64(dst[0:8], order.OrderID)
	binary.LittleEndian.PutUint32(dst[8:12], order.StrategyID)
	binary.LittleEndian.PutUint32(dst[12:16], order.SymbolID)
	binary.LittleEndian.PutUint16(dst[16:18], uint16(order.Side))
	binary.LittleEndian.PutUint16(dst[18:20], uint16(order.Type))
	binary.LittleEndian.PutUint16(dst[20:22], uint16(order.TimeInForce))
	binary.LittleEndian.PutUint16(dst[22:24], order.Flags)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(order.Price))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(order.Qty))

	return dst
}

// DecodeOrderIntent parses a fixed-size order intent payload.
func DecodeOrderIntent(src []byte) (schema.OrderIntent, bool) {
	if len(src) < OrderIntentPayloadSize {
		return schema.OrderIntent{}, false
	}
	return schema.OrderIntent{
		OrderID:     binary.LittleEndian.Uint64(src[0:8]),
		StrategyID:  binary.LittleEndian.Uint32(src[8:12]),
		SymbolID:    binary.LittleEndian.Uint32(src[12:16]),
		Side:        schema.OrderSide(binary.LittleEndian.Uint16(src[16:18])),
		Type:        schema.OrderType(binary.LittleEndian.Uint16(src[18:20])),
		TimeInForce: schema.TimeInForce(binary.LittleEndian.Uint16(src[20:22])),
		Flags:       binary.LittleEndian.Uint16(src[22:24]),
		Price:       schema.Price(int64(binary.LittleEndian.Uint64(src[24:32]))),
		Qty:         schema.Quantity(int64(binary.LittleEndian.Uint64(src[32:40]))),
	}, true
}

const OrderAckPayloadSize = 48

// EncodeOrderAck serializes an order acknowledgment into a fixed-size payload.
func EncodeOrderAck(dst []byte, ack schema.OrderAck) []byte {
	dst = grow(dst, OrderAckPayloadSize)

	binary.LittleEndian.PutUint64(dst[0:8], ack.OrderID)
	binary.LittleEndian.PutUint32(dst[8:12], ack.SymbolID)
	binary.LittleEndian.PutUint16(dst[12:14], uint16(ack.Status))
	binary.LittleEndian.PutUint16(dst[14:16], uint16(ack.Reason))
	binary.LittleEndian.PutUint16(dst[16:18], ack.Flags)
	binary.LittleEndian.PutUint16(dst[18:20], ack.Reserved)
	binary.LittleEndian.PutUint64(dst[20:28], uint64(ack.Price))
	binary.LittleEndian.PutUint64(dst[28:36], uint64(ack.Qty))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(ack.LeavesQty))
	binary.LittleEndian.PutUint32(dst[44:48], ack.Reserved2)

	return dst
}

// DecodeOrderAck parses a fixed-size order acknowledgment payload.
func DecodeOrderAck(src []byte) (schema.OrderAck, bool) {
	if len(src) < OrderAckPayloadSize {
		return schema.OrderAck{}, false
	}
	return schema.OrderAck{
		OrderID:   binary.LittleEndian.Uint64(src[0:8]),
		SymbolID:  binary.LittleEndian.Uint32(src[8:12]),
		Status:    schema.OrderAckStatus(binary.LittleEndian.Uint16(src[12:14])),
		Reason:    schema.OrderAckReason(binary.LittleEndian.Uint16(src[14:16])),
		Flags:     binary.LittleEndian.Uint16(src[16:18]),
		Reserved:  binary.LittleEndian.Uint16(src[18:20]),
		Price:     schema.Price(int64(binary.LittleEndian.Uint64(src[20:28]))),
		Qty:       schema.Quantity(int64(binary.LittleEndian.Uint64(src[28:36]))),
		LeavesQty: schema.Quantity(int64(binary.LittleEndian.Uint64(src[36:44]))),
		Reserved2: binary.LittleEndian.Uint32(src[44:48]),
	}, true
}

const FillPayloadSize = 40

// EncodeFill serializes a fill into a fixed-size payload.
func EncodeFill(dst []byte, fill schema.Fill) []byte {
	dst = grow(dst, FillPayloadSize)

	binary.LittleEndian.PutUint64(dst[0:8], fill.OrderID)
	binary.LittleEndian.PutUint32(dst[8:12], fill.SymbolID)
	binary.LittleEndian.PutUint16(dst[12:14], uint16(fill.Side))
	binary.LittleEndian.PutUint16(dst[14:16], fill.Flags)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(fill.Price))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(fill.Qty))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(fill.Fee))

	return dst
}

// DecodeFill parses a fixed-size fill payload.
func DecodeFill(src []byte) (schema.Fill, bool) {
	if len(src) < FillPayloadSize {
		return schema.Fill{}, false
	}
	return schema.Fill{
		OrderID:  binary.LittleEndian.Uint64(src[0:8]),
		SymbolID: binary.LittleEndian.Uint32(src[8:12]),
		Side:     schema.OrderSide(binary.LittleEndian.Uint16(src[12:14])),
		Flags:    binary.LittleEndian.Uint16(src[14:16]),
		Price:    schema.Price(int64(binary.LittleEndian.Uint64(src[16:24]))),
		Qty:      schema.Quantity(int64(binary.LittleEndian.Uint64(src[24:32]))),
		Fee:      schema.Fee(int64(binary.LittleEndian.Uint64(src[32:40]))),
	}, true
}
