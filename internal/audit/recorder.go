// Package audit persists admission decisions asynchronously. Writes happen
// off the hot path: Record never blocks and drops on a full buffer rather
// than adding latency to the admission decision.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tripwise/gatekeeper/internal/admission"
	"github.com/tripwise/gatekeeper/internal/models"
	"github.com/tripwise/gatekeeper/internal/ratelimit"
)

const (
	defaultBufferSize   = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Recorder writes decision and config-version rows through a buffered
// channel consumed by a single worker goroutine.
type Recorder struct {
	db      *gorm.DB
	queue   chan models.DecisionRecord
	dropped atomic.Int64
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewRecorder constructs a Recorder and starts its worker. buffer <= 0 uses
// the default size.
func NewRecorder(db *gorm.DB, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	r := &Recorder{
		db:    db,
		queue: make(chan models.DecisionRecord, buffer),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.drain()
	}()
	return r
}

// Record implements admission.Recorder. It never blocks the caller.
func (r *Recorder) Record(req admission.Request, decision admission.Decision) {
	if r == nil || r.closed.Load() {
		return
	}
	row := models.DecisionRecord{
		RequestID:    decision.RequestID,
		Identifier:   req.Identifier,
		Endpoint:     req.Endpoint,
		Tier:         req.Tier,
		Verdict:      string(decision.Verdict),
		RiskScore:    decision.RiskScore,
		RiskLevel:    string(decision.RiskLevel),
		RetryAfterMs: decision.RetryAfterMs,
		ConfigID:     decision.ConfigID,
		Generation:   decision.Generation,
		CreatedAt:    time.Now().UTC(),
	}
	if raw, errMarshal := json.Marshal(decision.Reasons); errMarshal == nil {
		row.Reasons = raw
	}
	if raw, errMarshal := json.Marshal(decision.AppliedRuleIDs); errMarshal == nil {
		row.AppliedRules = raw
	}

	select {
	case r.queue <- row:
	default:
		r.dropped.Add(1)
	}
}

// RecordConfig persists an accepted config load synchronously; config pushes
// are operator actions, not hot-path traffic.
func (r *Recorder) RecordConfig(key string, cfg *ratelimit.Config) {
	if r == nil || r.db == nil || cfg == nil {
		return
	}
	row := models.ConfigVersion{
		ConfigKey: key,
		ConfigID:  cfg.ID,
		Version:   cfg.Version,
		Active:    cfg.Active,
		LoadedAt:  time.Now().UTC(),
	}
	if raw, errMarshal := json.Marshal(cfg); errMarshal == nil {
		row.Document = raw
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("audit: failed to persist config version")
	}
}

// Dropped reports how many decisions were discarded on a full buffer.
func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Close stops the worker after the queue drains.
func (r *Recorder) Close() {
	if r == nil || !r.closed.CompareAndSwap(false, true) {
		return
	}
	close(r.queue)
	r.wg.Wait()
}

func (r *Recorder) drain() {
	for row := range r.queue {
		if r.db == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		errCreate := r.db.WithContext(ctx).Create(&row).Error
		cancel()
		if errCreate != nil {
			log.WithError(errCreate).Warn("audit: failed to persist decision")
		}
	}
}
