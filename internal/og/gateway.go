package og

import (
	"sort"

	"main/internal/schema"

	"github.com/yanun0323/errors"
)

var ErrGatewayDisconnected = errors.New("order gateway disconnected")

// GatewayConfig controls one venue session.
type GatewayConfig struct {
	Session           string
	ResendOnReconnect bool
}

// Gateway fronts a venue session. It feeds acks and fills into the order
// lifecycle and keeps the intents of in-flight orders so they can be resent
// after a reconnect.
type Gateway struct {
	cfg       GatewayConfig
	orders    *Lifecycle
	pending   map[uint64]schema.OrderIntent
	connected bool
	resends   uint64
}

// NewGateway creates a connected gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	return &Gateway{
		cfg:       cfg,
		orders:    NewLifecycle(),
		pending:   make(map[uint64]schema.OrderIntent),
		connected: true,
	}
}

// Session returns the session label.
func (g *Gateway) Session() string {
	return g.cfg.Session
}

// Lifecycle returns the order tracker.
func (g *Gateway) Lifecycle() *Lifecycle {
	return g.orders
}

// Resends returns how many intents have been handed out for resend.
func (g *Gateway) Resends() uint64 {
	return g.resends
}

// Send tracks a new intent. The intent is retained for resend even when the
// session is down, so orders queued during an outage go out on reconnect.
func (g *Gateway) Send(intent schema.OrderIntent) error {
	if _, err := g.orders.ApplyIntent(intent); err != nil {
		return errors.Wrap(err, "track intent")
	}
	g.pending[intent.OrderID] = intent
	if !g.connected {
		return ErrGatewayDisconnected
	}
	return nil
}

// OnAck advances the order lifecycle from a venue acknowledgment.
func (g *Gateway) OnAck(ack schema.OrderAck) error {
	order, err := g.orders.ApplyAck(ack)
	if err != nil {
		return err
	}
	if order.State.Terminal() {
		delete(g.pending, order.ID)
	}
	return nil
}

// OnFill advances the order lifecycle from a venue fill.
func (g *Gateway) OnFill(fill schema.Fill) error {
	order, err := g.orders.ApplyFill(fill)
	if err != nil {
		return err
	}
	if order.State.Terminal() {
		delete(g.pending, order.ID)
	}
	return nil
}

// Disconnect marks the session down. Intents keep accumulating until
// Reconnect.
func (g *Gateway) Disconnect() {
	g.connected = false
}

// Reconnect marks the session up and returns the in-flight intents to
// resend, ordered by order id so replay is deterministic.
func (g *Gateway) Reconnect() []schema.OrderIntent {
	g.connected = true
	if !g.cfg.ResendOnReconnect || len(g.pending) == 0 {
		return nil
	}
	out := make([]schema.OrderIntent, 0, len(g.pending))
	for _, intent := range g.pending {
		out = append(out, intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	g.resends += uint64(len(out))
	return out
}
