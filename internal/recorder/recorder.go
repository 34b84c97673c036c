// Package recorder assembles finished decisions and fans them out to the
// observability sinks. The enforcement action returns to the caller only
// after the decision is fully constructed; sink delivery happens off the
// request path and is strictly best-effort.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/gatewatch/internal/alert"
	"github.com/ppiankov/gatewatch/internal/audit"
	"github.com/ppiankov/gatewatch/internal/confirm"
	"github.com/ppiankov/gatewatch/internal/model"
	"github.com/ppiankov/gatewatch/internal/store"
	"github.com/ppiankov/gatewatch/internal/tracer"
)

// queueSize bounds the async emit queue. When sinks cannot keep up, new
// records are dropped rather than blocking enforcement.
const queueSize = 1024

// Recorder owns the sink fan-out for decision records.
type Recorder struct {
	auditLog   *audit.Log
	dispatcher *alert.Dispatcher
	decisions  *store.Store
	confirms   *confirm.Store
	policyHash func() string
	log        *slog.Logger

	queue chan *model.Decision
	wg    sync.WaitGroup
	once  sync.Once
}

// Config wires the recorder's sinks. Any of them may be nil.
type Config struct {
	AuditLog   *audit.Log
	Dispatcher *alert.Dispatcher
	Decisions  *store.Store
	Confirms   *confirm.Store
	// PolicyHash supplies the active policy version for stamping records.
	PolicyHash func() string
	Logger     *slog.Logger
}

// New creates a recorder and starts its single emit worker.
func New(cfg Config) *Recorder {
	if cfg.PolicyHash == nil {
		cfg.PolicyHash = func() string { return "" }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Recorder{
		auditLog:   cfg.AuditLog,
		dispatcher: cfg.Dispatcher,
		decisions:  cfg.Decisions,
		confirms:   cfg.Confirms,
		policyHash: cfg.PolicyHash,
		log:        cfg.Logger,
		queue:      make(chan *model.Decision, queueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Emit hands a fully constructed decision to the sinks. Never blocks: when
// the queue is full the record is dropped and counted in the log.
func (r *Recorder) Emit(d *model.Decision) {
	select {
	case r.queue <- d:
	default:
		r.log.Warn("audit queue full, dropping decision record",
			"request_id", d.RequestID, "action", string(d.Action))
	}
}

// Close stops accepting records and drains the queue.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.queue) })
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for d := range r.queue {
		r.deliver(d)
	}
}

func (r *Recorder) deliver(d *model.Decision) {
	if r.auditLog != nil {
		entry := audit.FromDecision(d)
		entry.PolicyHash = r.policyHash()
		if err := r.auditLog.Record(entry); err != nil {
			r.log.Warn("audit record failed", "request_id", d.RequestID, "err", err)
		}
	}

	if r.decisions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.decisions.Insert(ctx, d); err != nil {
			r.log.Warn("decision store insert failed", "request_id", d.RequestID, "err", err)
		}
		cancel()
	}

	if r.confirms != nil && d.Action == model.ActionConfirm {
		err := r.confirms.Request(confirm.Confirmation{
			Key:      d.RequestID,
			Reason:   d.Reason,
			RuleID:   d.MatchedRuleID,
			ClientID: d.Meta.ClientID,
			Tool:     d.Meta.Tool,
			Risk:     d.Score.Risk,
		})
		if err != nil {
			r.log.Warn("confirmation request failed", "request_id", d.RequestID, "err", err)
		}
	}

	if r.dispatcher != nil {
		r.dispatcher.Dispatch(alert.Event{
			Timestamp:  tracer.UTCNowISO(),
			RequestID:  d.RequestID,
			ClientID:   d.Meta.ClientID,
			Tool:       d.Meta.Tool,
			Action:     string(d.Action),
			RuleID:     d.MatchedRuleID,
			Reason:     d.Reason,
			Risk:       d.Score.Risk,
			Threat:     string(d.Score.Threat),
			PolicyHash: r.policyHash(),
		})
	}
}
