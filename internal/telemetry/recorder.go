// Package telemetry persists decisions, fills and metric snapshots to
// PostgreSQL, off the trading hot path. Records are buffered in memory and
// flushed in batches on a timer; a nil recorder is a no-op so disabling
// telemetry costs nothing at the call sites.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/obs"
	"main/internal/schema"
)

// SessionRow identifies one trading run.
type SessionRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Label     string `gorm:"size:64"`
	StartedAt time.Time
}

// DecisionRow is one persisted risk decision.
type DecisionRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:36;index"`
	OrderID   uint64
	SymbolID  uint32
	Action    uint16
	Reason    uint16
	Qty       int64
	Price     int64
	CreatedAt time.Time
}

// FillRow is one persisted fill.
type FillRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:36;index"`
	OrderID   uint64
	SymbolID  uint32
	Side      uint16
	Price     int64
	Qty       int64
	Fee       int64
	CreatedAt time.Time
}

// SnapshotRow is one persisted metrics snapshot.
type SnapshotRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID      string `gorm:"size:36;index"`
	OrdersApproved uint64
	OrdersRejected uint64
	QueueDrops     uint64
	Quarantines    uint64
	KillEscalation uint64
	PortfolioVaR   int64
	CreatedAt      time.Time
}

// Recorder buffers telemetry rows and flushes them in batches.
type Recorder struct {
	db        *gorm.DB
	sessionID string
	interval  time.Duration

	mu        sync.Mutex
	decisions []DecisionRow
	fills     []FillRow
	snapshots []SnapshotRow
}

// NewRecorder connects to PostgreSQL, migrates the tables and registers a
// new session.
func NewRecorder(cfg PGConfig, label string, flushInterval time.Duration) (*Recorder, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	r := &Recorder{
		db:        db,
		sessionID: uuid.NewString(),
		interval:  flushInterval,
	}
	session := SessionRow{ID: r.sessionID, Label: label, StartedAt: time.Now().UTC()}
	if err := db.Create(&session).Error; err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	logs.Infof("telemetry session started: %s", r.sessionID)
	return r, nil
}

// SessionID returns this run's session identifier.
func (r *Recorder) SessionID() string {
	if r == nil {
		return ""
	}
	return r.sessionID
}

// RecordDecision buffers one risk decision.
func (r *Recorder) RecordDecision(d schema.RiskDecision) {
	if r == nil {
		return
	}
	row := DecisionRow{
		SessionID: r.sessionID,
		OrderID:   d.OrderID,
		SymbolID:  d.SymbolID,
		Action:    uint16(d.Action),
		Reason:    uint16(d.Reason),
		Qty:       int64(d.ProposedQty),
		Price:     int64(d.ProposedPrice),
		CreatedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.decisions = append(r.decisions, row)
	r.mu.Unlock()
}

// RecordFill buffers one fill.
func (r *Recorder) RecordFill(f schema.Fill) {
	if r == nil {
		return
	}
	row := FillRow{
		SessionID: r.sessionID,
		OrderID:   f.OrderID,
		SymbolID:  f.SymbolID,
		Side:      uint16(f.Side),
		Price:     int64(f.Price),
		Qty:       int64(f.Qty),
		Fee:       int64(f.Fee),
		CreatedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.fills = append(r.fills, row)
	r.mu.Unlock()
}

// RecordSnapshot buffers one metrics snapshot.
func (r *Recorder) RecordSnapshot(s obs.Snapshot, portfolioVaR schema.Notional) {
	if r == nil {
		return
	}
	row := SnapshotRow{
		SessionID:      r.sessionID,
		OrdersApproved: s.OrdersApproved,
		OrdersRejected: s.OrdersRejected,
		QueueDrops:     s.QueueDrops,
		Quarantines:    s.Quarantines,
		KillEscalation: s.KillSwitchEscalation,
		PortfolioVaR:   int64(portfolioVaR),
		CreatedAt:      time.Now().UTC(),
	}
	r.mu.Lock()
	r.snapshots = append(r.snapshots, row)
	r.mu.Unlock()
}

// Run flushes on a timer until the context is done, then flushes once more.
func (r *Recorder) Run(ctx context.Context) {
	if r == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

// Flush writes all buffered rows in batches.
func (r *Recorder) Flush() {
	if r == nil {
		return
	}
	r.mu.Lock()
	decisions := r.decisions
	fills := r.fills
	snapshots := r.snapshots
	r.decisions = nil
	r.fills = nil
	r.snapshots = nil
	r.mu.Unlock()

	if len(decisions) > 0 {
		if err := r.db.CreateInBatches(decisions, 500).Error; err != nil {
			logs.Errorf("flush decisions, err: %+v", err)
		}
	}
	if len(fills) > 0 {
		if err := r.db.CreateInBatches(fills, 500).Error; err != nil {
			logs.Errorf("flush fills, err: %+v", err)
		}
	}
	if len(snapshots) > 0 {
		if err := r.db.CreateInBatches(snapshots, 500).Error; err != nil {
			logs.Errorf("flush snapshots, err: %+v", err)
		}
	}
}

// Close closes the underlying connection pool.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
