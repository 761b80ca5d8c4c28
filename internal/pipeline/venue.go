package pipeline

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// VenueConnector delivers approved order intents to an execution venue.
// Acks and fills come back asynchronously through the registered handlers.
// Send must respect the context deadline; the execution stage bounds every
// call so a stalled venue cannot wedge the pipeline.
type VenueConnector interface {
	Send(ctx context.Context, intent schema.OrderIntent) error
	OnAck(fn func(schema.OrderAck))
	OnFill(fn func(schema.Fill))
}

// SimVenue is an in-process venue that acks and fully fills every order at
// its limit price. RejectEvery > 0 makes it venue-reject every Nth order,
// which exercises the reject path end to end.
type SimVenue struct {
	mu          sync.Mutex
	ackFn       func(schema.OrderAck)
	fillFn      func(schema.Fill)
	sent        uint64
	RejectEvery uint64
	FeePerFill  schema.Fee
}

// NewSimVenue creates a venue that fills everything.
func NewSimVenue() *SimVenue {
	return &SimVenue{}
}

// OnAck registers the ack handler.
func (v *SimVenue) OnAck(fn func(schema.OrderAck)) {
	v.mu.Lock()
	v.ackFn = fn
	v.mu.Unlock()
}

// OnFill registers the fill handler.
func (v *SimVenue) OnFill(fn func(schema.Fill)) {
	v.mu.Lock()
	v.fillFn = fn
	v.mu.Unlock()
}

// Send accepts an intent and synchronously emits the ack and fill.
func (v *SimVenue) Send(ctx context.Context, intent schema.OrderIntent) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "venue send")
	}

	v.mu.Lock()
	v.sent++
	reject := v.RejectEvery > 0 && v.sent%v.RejectEvery == 0
	ackFn, fillFn := v.ackFn, v.fillFn
	fee := v.FeePerFill
	v.mu.Unlock()

	if reject {
		if ackFn != nil {
			ackFn(schema.OrderAck{
				OrderID:  intent.OrderID,
				SymbolID: intent.SymbolID,
				Status:   schema.OrderAckStatusRejected,
				Reason:   schema.OrderAckReasonVenueReject,
				Price:    intent.Price,
				Qty:      intent.Qty,
			})
		}
		return nil
	}

	if ackFn != nil {
		ackFn(schema.OrderAck{
			OrderID:   intent.OrderID,
			SymbolID:  intent.SymbolID,
			Status:    schema.OrderAckStatusAcked,
			Price:     intent.Price,
			Qty:       intent.Qty,
			LeavesQty: intent.Qty,
		})
	}
	if fillFn != nil {
		fillFn(schema.Fill{
			OrderID:  intent.OrderID,
			SymbolID: intent.SymbolID,
			Side:     intent.Side,
			Price:    intent.Price,
			Qty:      intent.Qty,
			Fee:      fee,
		})
	}
	return nil
}
