// Package saga executes multi-step workflows with per-step compensating
// actions. Steps run strictly in order; on failure, every completed step
// with a compensation gets one rollback attempt, in reverse order, and
// the original error is returned to the caller.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Status is the saga lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusRollingBack Status = "rolling_back"
	StatusRolledBack  Status = "rolled_back"
)

// Data is the mutable workflow state shared by steps. Steps read and
// write it by key instead of capturing outer variables, which keeps the
// data flow between steps explicit.
type Data struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewData creates an empty Data.
func NewData() *Data {
	return &Data{values: make(map[string]any)}
}

// Set stores a value under key.
func (d *Data) Set(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[key] = value
}

// Get returns the value stored under key and whether it was present.
func (d *Data) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[key]
	return v, ok
}

// GetString returns the string stored under key, or "" if absent or not
// a string.
func (d *Data) GetString(key string) string {
	if v, ok := d.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Step is one unit of a saga. Execute runs the step's action against
// the shared Data; Compensate (optional) undoes its side effects.
type Step struct {
	Name       string
	Execute    func(ctx context.Context, data *Data) (any, error)
	Compensate func(ctx context.Context, data *Data) error

	// Result holds the Execute return value once the step completes.
	Result any
}

// Context tracks one saga execution.
type Context struct {
	ID        string
	Steps     []*Step
	Completed []*Step // always a prefix of Steps, in order
	Status    Status
	Data      *Data
	Err       error
}

// NewContext creates a pending saga context.
func NewContext(id string, steps ...*Step) *Context {
	return &Context{
		ID:     id,
		Steps:  steps,
		Status: StatusPending,
		Data:   NewData(),
	}
}

// Error is returned when a saga fails. It preserves the triggering
// error and any compensation failures without letting the latter mask
// the former.
type Error struct {
	SagaID string
	Step   string // step whose Execute failed

	// Original is the error that triggered the rollback.
	Original error

	// Compensation aggregates rollback failures, nil if all
	// compensations succeeded.
	Compensation error
}

func (e *Error) Error() string {
	if e.Compensation != nil {
		return fmt.Sprintf("saga %s failed at %s: %v (compensation also failed: %v)",
			e.SagaID, e.Step, e.Original, e.Compensation)
	}
	return fmt.Sprintf("saga %s failed at %s: %v", e.SagaID, e.Step, e.Original)
}

// Unwrap returns the original error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Original
}

// Orchestrator runs sagas.
type Orchestrator struct {
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger}
}

// Execute runs the context's steps in order. A step is appended to
// Completed only after its action succeeds, so Completed is always a
// prefix of Steps. On failure the completed prefix is compensated in
// reverse and a *Error carrying the triggering error is returned.
//
// A step, once started, runs to completion or error; there is no
// mid-step cancellation.
func (o *Orchestrator) Execute(ctx context.Context, sctx *Context) error {
	sctx.Status = StatusRunning

	for _, step := range sctx.Steps {
		o.logger.Info("saga step start",
			slog.String("saga_id", sctx.ID),
			slog.String("step", step.Name),
		)

		result, err := step.Execute(ctx, sctx.Data)
		if err != nil {
			o.logger.Error("saga step failed",
				slog.String("saga_id", sctx.ID),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			sctx.Status = StatusFailed
			sctx.Err = err

			compErr := o.rollback(ctx, sctx)
			return &Error{SagaID: sctx.ID, Step: step.Name, Original: err, Compensation: compErr}
		}

		step.Result = result
		sctx.Completed = append(sctx.Completed, step)

		o.logger.Info("saga step complete",
			slog.String("saga_id", sctx.ID),
			slog.String("step", step.Name),
		)
	}

	sctx.Status = StatusCompleted
	return nil
}

// rollback compensates completed steps in reverse order. Steps without
// a compensation are skipped. A failing compensation is logged and
// recorded but never stops the remaining compensations.
func (o *Orchestrator) rollback(ctx context.Context, sctx *Context) error {
	sctx.Status = StatusRollingBack
	o.logger.Info("saga rollback start",
		slog.String("saga_id", sctx.ID),
		slog.Int("steps_to_rollback", len(sctx.Completed)),
	)

	var compErrs []error
	for i := len(sctx.Completed) - 1; i >= 0; i-- {
		step := sctx.Completed[i]
		if step.Compensate == nil {
			continue
		}

		o.logger.Info("saga compensate",
			slog.String("saga_id", sctx.ID),
			slog.String("step", step.Name),
		)
		if err := step.Compensate(ctx, sctx.Data); err != nil {
			o.logger.Error("saga compensation failed",
				slog.String("saga_id", sctx.ID),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			compErrs = append(compErrs, fmt.Errorf("compensate %s: %w", step.Name, err))
		}
	}

	sctx.Status = StatusRolledBack
	o.logger.Info("saga rollback complete", slog.String("saga_id", sctx.ID))
	return errors.Join(compErrs...)
}
