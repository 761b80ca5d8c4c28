package og

import (
	"testing"

	"main/internal/schema"
)

func intent(id uint64, qty schema.Quantity) schema.OrderIntent {
	return schema.OrderIntent{
		OrderID:  id,
		SymbolID: 1,
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeLimit,
		Price:    100,
		Qty:      qty,
	}
}

func TestLifecycleIntentAckFill(t *testing.T) {
	l := NewLifecycle()

	o, err := l.ApplyIntent(intent(1, 100))
	if err != nil {
		t.Fatalf("ApplyIntent: %v", err)
	}
	if o.State != OrderStateSent || o.LeavesQty != 100 {
		t.Fatalf("after intent: state=%v leaves=%d", o.State, o.LeavesQty)
	}

	o, err = l.ApplyAck(schema.OrderAck{OrderID: 1, Status: schema.OrderAckStatusAcked})
	if err != nil {
		t.Fatalf("ApplyAck: %v", err)
	}
	if o.State != OrderStateAcked {
		t.Fatalf("after ack: state=%v", o.State)
	}

	o, err = l.ApplyFill(schema.Fill{OrderID: 1, Qty: 40})
	if err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if o.State != OrderStatePartialFill || o.FilledQty != 40 || o.LeavesQty != 60 {
		t.Fatalf("after partial: state=%v filled=%d leaves=%d", o.State, o.FilledQty, o.LeavesQty)
	}

	o, err = l.ApplyFill(schema.Fill{OrderID: 1, Qty: 60})
	if err != nil {
		t.Fatalf("ApplyFill final: %v", err)
	}
	if o.State != OrderStateFilled || o.LeavesQty != 0 {
		t.Fatalf("after full: state=%v leaves=%d", o.State, o.LeavesQty)
	}
}

func TestLifecycleRetiresTerminalOrders(t *testing.T) {
	l := NewLifecycle()
	l.ApplyIntent(intent(1, 10))
	l.ApplyFill(schema.Fill{OrderID: 1, Qty: 10})

	if l.Active() != 0 || l.Completed() != 1 {
		t.Fatalf("active=%d completed=%d, want 0/1", l.Active(), l.Completed())
	}
	if _, ok := l.Order(1); ok {
		t.Fatal("filled order still tracked")
	}
	// Events for a retired id are late duplicates and carry no state.
	if _, err := l.ApplyFill(schema.Fill{OrderID: 1, Qty: 1}); err != ErrUnknownOrder {
		t.Fatalf("fill on retired order: err = %v, want ErrUnknownOrder", err)
	}
	if _, err := l.ApplyAck(schema.OrderAck{OrderID: 1, Status: schema.OrderAckStatusAcked}); err != ErrUnknownOrder {
		t.Fatalf("ack on retired order: err = %v, want ErrUnknownOrder", err)
	}
}

func TestLifecycleDuplicateIntent(t *testing.T) {
	l := NewLifecycle()
	if _, err := l.ApplyIntent(intent(1, 10)); err != nil {
		t.Fatalf("first intent: %v", err)
	}
	if _, err := l.ApplyIntent(intent(1, 10)); err != ErrDuplicateOrder {
		t.Fatalf("err = %v, want ErrDuplicateOrder", err)
	}
}

func TestLifecycleForwardOnly(t *testing.T) {
	l := NewLifecycle()
	l.ApplyIntent(intent(1, 10))
	l.ApplyAck(schema.OrderAck{OrderID: 1, Status: schema.OrderAckStatusAcked})

	// A second ack of the same rank does not replay the transition.
	if _, err := l.ApplyAck(schema.OrderAck{OrderID: 1, Status: schema.OrderAckStatusAcked}); err != ErrInvalidTransition {
		t.Fatalf("duplicate ack: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := l.ApplyAck(schema.OrderAck{OrderID: 1, Status: schema.OrderAckStatusUnknown}); err != ErrInvalidTransition {
		t.Fatalf("unknown status: err = %v, want ErrInvalidTransition", err)
	}
}

func TestLifecycleRejectsOverfill(t *testing.T) {
	l := NewLifecycle()
	l.ApplyIntent(intent(1, 10))

	if _, err := l.ApplyFill(schema.Fill{OrderID: 1, Qty: 11}); err != ErrInvalidFill {
		t.Fatalf("overfill: err = %v, want ErrInvalidFill", err)
	}
	if _, err := l.ApplyFill(schema.Fill{OrderID: 1, Qty: 0}); err != ErrInvalidFill {
		t.Fatalf("zero fill: err = %v, want ErrInvalidFill", err)
	}
	if o, ok := l.Order(1); !ok || o.State != OrderStateSent || o.LeavesQty != 10 {
		t.Fatalf("order after bad fills = %+v", o)
	}
}

func TestGatewayResendOnReconnect(t *testing.T) {
	g := NewGateway(GatewayConfig{Session: "sim", ResendOnReconnect: true})

	if err := g.Send(intent(2, 20)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := g.Send(intent(1, 10)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Order 1 completes and leaves the pending set.
	g.OnAck(schema.OrderAck{OrderID: 1, Status: schema.OrderAckStatusFilled})

	g.Disconnect()
	if err := g.Send(intent(3, 30)); err != ErrGatewayDisconnected {
		t.Fatalf("err = %v, want ErrGatewayDisconnected", err)
	}

	resend := g.Reconnect()
	if len(resend) != 2 || resend[0].OrderID != 2 || resend[1].OrderID != 3 {
		t.Fatalf("resend = %+v, want orders 2 then 3", resend)
	}
	if g.Resends() != 2 {
		t.Fatalf("resends = %d, want 2", g.Resends())
	}
}

func TestGatewayWithoutResend(t *testing.T) {
	g := NewGateway(GatewayConfig{})
	g.Send(intent(1, 10))
	g.Disconnect()
	if resend := g.Reconnect(); resend != nil {
		t.Fatalf("resend = %v, want nil", resend)
	}
}
