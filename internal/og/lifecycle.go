// Package og tracks order lifecycles at the venue boundary. Orders only move
// forward: New -> Sent -> Acked -> PartialFill -> Filled, or straight to
// Cancelled, Rejected or Expired. A terminal transition retires the order, so
// the live set is bounded by the number of in-flight orders.
package og

import (
	"errors"

	"main/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order id already tracked")
	ErrUnknownOrder      = errors.New("order not tracked")
	ErrInvalidTransition = errors.New("order lifecycle cannot move backward")
	ErrInvalidFill       = errors.New("fill exceeds remaining quantity")
)

// OrderState is one step of the order lifecycle.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateNew
	OrderStateSent
	OrderStateAcked
	OrderStatePartialFill
	OrderStateFilled
	OrderStateCancelled
	OrderStateRejected
	OrderStateExpired
)

var orderStateNames = [...]string{
	"unknown", "new", "sent", "acked", "partial_fill",
	"filled", "cancelled", "rejected", "expired",
}

func (s OrderState) String() string {
	if int(s) < len(orderStateNames) {
		return orderStateNames[s]
	}
	return "invalid"
}

// Terminal reports whether the state accepts no further events.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateExpired:
		return true
	default:
		return false
	}
}

// rank orders the forward-only lifecycle. All terminal states share the top
// rank.
func (s OrderState) rank() int {
	switch s {
	case OrderStateNew:
		return 1
	case OrderStateSent:
		return 2
	case OrderStateAcked:
		return 3
	case OrderStatePartialFill:
		return 4
	default:
		if s.Terminal() {
			return 5
		}
		return 0
	}
}

// Order is the tracked view of one in-flight order. Callers receive copies;
// the lifecycle owns the live entry.
type Order struct {
	ID        uint64
	SymbolID  schema.SymbolID
	Side      schema.OrderSide
	Price     schema.Price
	Qty       schema.Quantity
	FilledQty schema.Quantity
	LeavesQty schema.Quantity
	State     OrderState
}

// Lifecycle tracks in-flight orders from intent, ack and fill events. A
// terminal transition deletes the entry; later events for the same id report
// ErrUnknownOrder.
type Lifecycle struct {
	live      map[uint64]*Order
	completed uint64
}

// NewLifecycle creates an empty tracker.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{live: make(map[uint64]*Order)}
}

// Order returns a copy of a live order.
func (l *Lifecycle) Order(id uint64) (Order, bool) {
	o, ok := l.live[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Active returns the number of in-flight orders.
func (l *Lifecycle) Active() int {
	return len(l.live)
}

// Completed returns how many orders have reached a terminal state.
func (l *Lifecycle) Completed() uint64 {
	return l.completed
}

// ApplyIntent starts tracking a sent order.
func (l *Lifecycle) ApplyIntent(intent schema.OrderIntent) (Order, error) {
	if intent.OrderID == 0 {
		return Order{}, ErrUnknownOrder
	}
	if _, ok := l.live[intent.OrderID]; ok {
		return Order{}, ErrDuplicateOrder
	}
	o := &Order{
		ID:        intent.OrderID,
		SymbolID:  schema.SymbolID(intent.SymbolID),
		Side:      intent.Side,
		Price:     intent.Price,
		Qty:       intent.Qty,
		LeavesQty: intent.Qty,
		State:     OrderStateSent,
	}
	l.live[o.ID] = o
	return *o, nil
}

// ApplyAck moves an order to the acknowledged state. Quantities never change
// on an ack; only fills consume them.
func (l *Lifecycle) ApplyAck(ack schema.OrderAck) (Order, error) {
	o, ok := l.live[ack.OrderID]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	next, ok := ackState(ack.Status)
	if !ok || next.rank() <= o.State.rank() {
		return *o, ErrInvalidTransition
	}
	o.State = next
	return l.settle(o), nil
}

// ApplyFill consumes remaining quantity. The order completes when nothing is
// left.
func (l *Lifecycle) ApplyFill(fill schema.Fill) (Order, error) {
	o, ok := l.live[fill.OrderID]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	if fill.Qty <= 0 || fill.Qty > o.LeavesQty {
		return *o, ErrInvalidFill
	}
	o.FilledQty += fill.Qty
	o.LeavesQty -= fill.Qty
	if o.LeavesQty == 0 {
		o.State = OrderStateFilled
	} else {
		o.State = OrderStatePartialFill
	}
	return l.settle(o), nil
}

// settle retires terminal orders and hands back a caller-owned copy.
func (l *Lifecycle) settle(o *Order) Order {
	out := *o
	if out.State.Terminal() {
		delete(l.live, out.ID)
		l.completed++
	}
	return out
}

func ackState(status schema.OrderAckStatus) (OrderState, bool) {
	switch status {
	case schema.OrderAckStatusAcked:
		return OrderStateAcked, true
	case schema.OrderAckStatusPartFilled:
		return OrderStatePartialFill, true
	case schema.OrderAckStatusFilled:
		return OrderStateFilled, true
	case schema.OrderAckStatusCanceled:
		return OrderStateCancelled, true
	case schema.OrderAckStatusRejected:
		return OrderStateRejected, true
	case schema.OrderAckStatusExpired:
		return OrderStateExpired, true
	default:
		return OrderStateUnknown, false
	}
}
