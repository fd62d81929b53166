package dbcontext

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

const (
	defaultOperationName = "command"

	modeDeferred  = "deferred"
	modeImmediate = "immediate"

	transactionStatusCommitted    = "committed"
	transactionStatusAborted      = "aborted"
	transactionStatusCommitFailed = "commit_failed"
)

// Log messages.
const (
	logMsgCommandExecuted         = "command executed"
	logMsgSaveChangesCompleted    = "save changes completed"
	logMsgSaveChangesFailed       = "save changes failed"
	logMsgTransactionCommitted    = "transaction committed"
	logMsgCommitFailed            = "commit transaction failed"
	logMsgAbortFailedSwallowed    = "abort transaction failed, error swallowed"
	logMsgPendingChangesDiscarded = "pending changes discarded"
)

// Log attribute keys.
const (
	logAttrDurationMS   = "duration_ms"
	logAttrCommandCount = "command_count"
	logAttrFailedIndex  = "failed_index"
	logAttrOperation    = "operation"
	logAttrMode         = "mode"
	logAttrStatus       = "status"
	logAttrSessionID    = "session_id"
	logAttrError        = "error"
)

// Metric names.
const (
	metricSaveChangesDuration = "docstore_save_changes_duration_seconds"
	metricCommandsExecuted    = "docstore_commands_executed_total"
	metricTransactions        = "docstore_transactions_total"
	metricSaveChangesCommands = "docstore_save_changes_commands"
)

// Span names and attributes.
const (
	spanNameSaveChanges       = "docstore.save_changes"
	spanNameCommitTransaction = "docstore.commit_transaction"

	spanAttrCommandCount = "command_count"
	spanAttrFailedIndex  = "failed_index"
	spanAttrOperation    = "operation"
	spanAttrSessionID    = "session_id"
	spanAttrDurationMS   = "duration_ms"
)

const operationSaveChanges = "save_changes"

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (c *DBContext) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func (c *DBContext) formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2f", c.toMilliseconds(d))
}

func (c *DBContext) logCommandContext(ctx context.Context, operation, mode, status string, duration time.Duration) {
	args := []any{
		logAttrOperation, operation,
		logAttrMode, mode,
		logAttrStatus, status,
		logAttrDurationMS, c.toMilliseconds(duration),
	}

	if c.logger != nil {
		c.logger.Debug(logMsgCommandExecuted, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.DebugContext(ctx, logMsgCommandExecuted, args...)
	}
}

func (c *DBContext) logOperationContext(ctx context.Context, message string, args ...any) {
	if c.logger != nil {
		c.logger.Info(message, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.InfoContext(ctx, message, args...)
	}
}

func (c *DBContext) logWarnContext(ctx context.Context, message string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(message, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.WarnContext(ctx, message, args...)
	}
}

func (c *DBContext) logErrorContext(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if c.logger != nil {
		c.logger.Error(message, allArgs...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

func (c *DBContext) incrementCounterContext(ctx context.Context, metric string, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	// Use context-aware method if available
	if contextual, ok := c.metricsCollector.(docstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	c.metricsCollector.IncrementCounter(metric, labels)
}

func (c *DBContext) recordCommandMetricsContext(ctx context.Context, operation, mode, status string) {
	c.incrementCounterContext(ctx, metricCommandsExecuted, map[string]string{
		logAttrOperation: operation,
		logAttrMode:      mode,
		logAttrStatus:    status,
	})
}

func (c *DBContext) recordTransactionMetricsContext(ctx context.Context, status string) {
	c.incrementCounterContext(ctx, metricTransactions, map[string]string{logAttrStatus: status})
}

// === Metrics Observer ===

type saveChangesMetricsObserver struct {
	c            *DBContext
	ctx          context.Context
	commandCount int
}

func (c *DBContext) startSaveChangesMetrics(ctx context.Context, commandCount int) *saveChangesMetricsObserver {
	return &saveChangesMetricsObserver{c: c, ctx: ctx, commandCount: commandCount}
}

func (o *saveChangesMetricsObserver) recordSuccess(duration time.Duration) {
	o.record(duration, docstore.StatusSuccess)
}

func (o *saveChangesMetricsObserver) recordError(duration time.Duration) {
	o.record(duration, docstore.StatusError)
}

func (o *saveChangesMetricsObserver) record(duration time.Duration, status string) {
	collector := o.c.metricsCollector
	if collector == nil {
		return
	}

	labels := map[string]string{
		logAttrOperation: operationSaveChanges,
		logAttrStatus:    status,
	}

	// Use context-aware methods if available
	if contextual, ok := collector.(docstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(o.ctx, metricSaveChangesDuration, duration, labels)
		contextual.RecordValueContext(o.ctx, metricSaveChangesCommands, float64(o.commandCount), labels)
		return
	}

	collector.RecordDuration(metricSaveChangesDuration, duration, labels)
	collector.RecordValue(metricSaveChangesCommands, float64(o.commandCount), labels)
}

// === Tracing Observers ===

type saveChangesTracingObserver struct {
	c    *DBContext
	span docstore.SpanContext
}

func (c *DBContext) startSaveChangesTracing(
	ctx context.Context,
	commandCount int,
) (*saveChangesTracingObserver, context.Context) {

	if c.tracingCollector == nil {
		return &saveChangesTracingObserver{c: c}, ctx
	}

	newCtx, span := c.tracingCollector.StartSpan(ctx, spanNameSaveChanges, map[string]string{
		spanAttrOperation:    operationSaveChanges,
		spanAttrCommandCount: strconv.Itoa(commandCount),
	})

	return &saveChangesTracingObserver{c: c, span: span}, newCtx
}

func (o *saveChangesTracingObserver) finishSuccess(commandCount int, duration time.Duration) {
	if o.span == nil {
		return
	}

	o.span.AddAttribute(spanAttrDurationMS, o.c.formatDuration(duration))
	o.c.tracingCollector.FinishSpan(o.span, docstore.StatusSuccess, map[string]string{
		spanAttrCommandCount: strconv.Itoa(commandCount),
	})
}

func (o *saveChangesTracingObserver) finishError(operation string, failedIndex int, duration time.Duration) {
	if o.span == nil {
		return
	}

	o.span.AddAttribute(spanAttrDurationMS, o.c.formatDuration(duration))
	o.c.tracingCollector.FinishSpan(o.span, docstore.StatusError, map[string]string{
		spanAttrOperation:   operation,
		spanAttrFailedIndex: strconv.Itoa(failedIndex),
	})
}

type commitTracingObserver struct {
	c    *DBContext
	span docstore.SpanContext
}

func (c *DBContext) startCommitTracing(
	ctx context.Context,
	session docstore.Session,
) (*commitTracingObserver, context.Context) {

	if c.tracingCollector == nil {
		return &commitTracingObserver{c: c}, ctx
	}

	newCtx, span := c.tracingCollector.StartSpan(ctx, spanNameCommitTransaction, map[string]string{
		spanAttrSessionID: session.ID(),
	})

	return &commitTracingObserver{c: c, span: span}, newCtx
}

func (o *commitTracingObserver) finishSuccess(duration time.Duration) {
	o.finish(docstore.StatusSuccess, duration)
}

func (o *commitTracingObserver) finishError(duration time.Duration) {
	o.finish(docstore.StatusError, duration)
}

func (o *commitTracingObserver) finish(status string, duration time.Duration) {
	if o.span == nil {
		return
	}

	o.c.tracingCollector.FinishSpan(o.span, status, map[string]string{
		spanAttrDurationMS: o.c.formatDuration(duration),
	})
}
