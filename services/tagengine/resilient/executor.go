// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/tagledger/pkg/clock"
	"github.com/AleutianAI/tagledger/pkg/logging"
)

// FallbackUsedWarning marks a result that came from the degradation
// fallback rather than the primary operation.
const FallbackUsedWarning = "FALLBACK_USED"

// DefaultErrorLogLimit bounds the in-memory error log.
const DefaultErrorLogLimit = 100

// RetryConfig tunes the retry loop.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, first attempt
	// included. Default 3.
	MaxAttempts int

	// BaseDelay is the sleep after the first failure. Default 500ms.
	BaseDelay time.Duration

	// Multiplier grows the delay per retry. Default 2.0.
	Multiplier float64

	// MaxDelay caps the exponential growth. Default 10s.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the standard retry budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// delayFor returns min(BaseDelay · Multiplier^(failures-1), MaxDelay).
func (c RetryConfig) delayFor(failures int) time.Duration {
	delay := float64(c.BaseDelay)
	for i := 1; i < failures; i++ {
		delay *= c.Multiplier
		if delay >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// OpContext describes the operation being executed, for the error log
// and the offline queue. It is never persisted beyond those.
type OpContext struct {
	Operation string
	Scope     string
	RecordID  string
	Tags      []string

	// Mutating marks operations that change durable state. Only
	// mutating operations are queued offline on connectivity failure.
	Mutating bool
}

// Op is a fallible operation run under the executor.
type Op func(ctx context.Context) (any, error)

// Outcome is the typed result of an execution. Failures carry the
// error code, whether the class was retryable, and recovery guidance;
// they are returned, never thrown.
type Outcome struct {
	Success   bool
	Data      any
	Errors    []string
	Warnings  []string
	Code      ErrorCode
	Retryable bool
	Recovery  *RecoveryStrategy
	Attempts  int
}

// ErrorRecord is one entry of the bounded in-memory error log.
type ErrorRecord struct {
	Operation string
	Scope     string
	RecordID  string
	Tags      []string
	Code      ErrorCode
	Message   string
	Timestamp time.Time
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Clock is the time source for backoff sleeps and timestamps.
	Clock clock.Clock

	// Logger receives structured operational logs.
	Logger *slog.Logger

	// Retry is the default retry budget; per-call configs override it.
	Retry RetryConfig

	// Queue receives mutating operations that failed for
	// connectivity reasons. Optional; without it nothing is queued.
	Queue *SyncQueue

	// ErrorLogLimit bounds the in-memory error log. Default 100.
	ErrorLogLimit int
}

// Executor runs operations with classification-aware retry and
// exponential backoff. Backoff sleeps honor context cancellation, so
// scope teardown interrupts a waiting retry.
//
// # Thread Safety
//
// Executor is safe for concurrent use. The error log is instance
// state, not package state, so isolated executors can run in parallel
// tests.
type Executor struct {
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
	retry  RetryConfig
	queue  *SyncQueue

	mu       sync.Mutex
	errorLog []ErrorRecord
	logLimit int
}

// NewExecutor creates a resilient executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ErrorLogLimit <= 0 {
		cfg.ErrorLogLimit = DefaultErrorLogLimit
	}
	return &Executor{
		clock:    cfg.Clock,
		logger:   logging.Component(cfg.Logger, "resilient.Executor"),
		tracer:   otel.Tracer("tagledger.resilient"),
		retry:    cfg.Retry.withDefaults(),
		queue:    cfg.Queue,
		logLimit: cfg.ErrorLogLimit,
	}
}

// ExecuteWithRetry runs op with the executor's (or the given) retry
// budget. Transient failures are retried with exponential backoff;
// terminal or exhausted failures produce a typed Outcome with a
// recovery strategy. Mutating operations that exhaust a connectivity
// failure are appended to the offline queue.
func (e *Executor) ExecuteWithRetry(ctx context.Context, op Op, opCtx OpContext, cfg ...RetryConfig) Outcome {
	retry := e.retry
	if len(cfg) > 0 {
		retry = cfg[0].withDefaults()
	}

	ctx, span := e.tracer.Start(ctx, "resilient.ExecuteWithRetry",
		trace.WithAttributes(
			attribute.String("operation", opCtx.Operation),
			attribute.Int("max_attempts", retry.MaxAttempts),
		),
	)
	defer span.End()

	var lastErr error
	var lastClass Classification
	attempts := 0

	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := retry.delayFor(attempt - 1)
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("backoff_ms", delay.Milliseconds()),
			))
			e.logger.Warn("retrying operation",
				"operation", opCtx.Operation,
				"attempt", attempt,
				"backoff", delay,
			)
			select {
			case <-ctx.Done():
				return e.failure(ctx, opCtx, ctx.Err(), Classification{Code: CodeTimeoutError}, attempts)
			case <-e.clock.After(delay):
			}
		}

		attempts = attempt
		data, err := op(ctx)
		if err == nil {
			return Outcome{Success: true, Data: data, Attempts: attempts}
		}
		lastErr = err
		lastClass = Classify(err)
		e.recordError(opCtx, err, lastClass)
		if !lastClass.Retryable {
			break
		}
	}

	return e.failure(ctx, opCtx, lastErr, lastClass, attempts)
}

func (e *Executor) failure(ctx context.Context, opCtx OpContext, err error, class Classification, attempts int) Outcome {
	recovery := recoveryFor(class.Code)

	if e.queue != nil && opCtx.Mutating && class.Retryable {
		queued := QueuedOperation{
			ID:        uuid.NewString(),
			Operation: opCtx.Operation,
			Scope:     opCtx.Scope,
			RecordID:  opCtx.RecordID,
			Tags:      opCtx.Tags,
		}
		if qerr := e.queue.Enqueue(ctx, queued); qerr != nil {
			e.logger.Error("failed to queue operation for sync",
				"operation", opCtx.Operation, "error", qerr)
		}
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{
		Errors:    []string{msg},
		Code:      class.Code,
		Retryable: class.Retryable,
		Recovery:  &recovery,
		Attempts:  attempts,
	}
}

// HandleGracefulDegradation runs primary through the retry loop and,
// if it still fails, tries fallback once. A fallback success is
// reported as success with a FALLBACK_USED warning instead of a hard
// failure.
func (e *Executor) HandleGracefulDegradation(ctx context.Context, primary, fallback Op, opCtx OpContext, cfg ...RetryConfig) Outcome {
	outcome := e.ExecuteWithRetry(ctx, primary, opCtx, cfg...)
	if outcome.Success {
		return outcome
	}

	data, err := fallback(ctx)
	if err != nil {
		e.recordError(opCtx, err, Classify(err))
		outcome.Errors = append(outcome.Errors, "fallback failed: "+err.Error())
		return outcome
	}

	e.logger.Warn("primary operation failed, using fallback",
		"operation", opCtx.Operation,
		"code", outcome.Code,
	)
	if outcome.Recovery != nil {
		outcome.Recovery.FallbackData = data
	}
	return Outcome{
		Success:  true,
		Data:     data,
		Warnings: []string{FallbackUsedWarning},
		Code:     outcome.Code,
		Recovery: outcome.Recovery,
		Attempts: outcome.Attempts,
	}
}

// ProcessSyncQueue drains the offline queue through replay. It is a
// no-op when no queue is configured.
func (e *Executor) ProcessSyncQueue(ctx context.Context, replay ReplayFunc) (ProcessResult, error) {
	if e.queue == nil {
		return ProcessResult{}, nil
	}
	return e.queue.Process(ctx, replay)
}

func (e *Executor) recordError(opCtx OpContext, err error, class Classification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errorLog = append(e.errorLog, ErrorRecord{
		Operation: opCtx.Operation,
		Scope:     opCtx.Scope,
		RecordID:  opCtx.RecordID,
		Tags:      opCtx.Tags,
		Code:      class.Code,
		Message:   err.Error(),
		Timestamp: e.clock.Now(),
	})
	if len(e.errorLog) > e.logLimit {
		e.errorLog = e.errorLog[len(e.errorLog)-e.logLimit:]
	}
}

// ErrorLog returns a copy of the bounded error log, oldest first.
func (e *Executor) ErrorLog() []ErrorRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ErrorRecord, len(e.errorLog))
	copy(out, e.errorLog)
	return out
}
