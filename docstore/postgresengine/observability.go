package postgresengine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

const (
	logMsgSQLExecuted            = "executed sql for: "
	logMsgOperation              = "docstore operation: "
	logMsgOperationFailed        = "docstore operation failed: "
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgCloseClientFailed      = "failed to close database connection pool"
	logMsgEnsureCollectionFailed = "failed to ensure collection table"
	logMsgRollbackFailed         = "rollback failed"
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrDurationMS            = "duration_ms"
	logAttrCollection            = "collection"
	logAttrDocumentCount         = "document_count"
	logAttrRowsAffected          = "rows_affected"
	logAttrSessionID             = "session_id"
)

const (
	operationFind             = "find"
	operationFindOne          = "find_one"
	operationCount            = "count"
	operationInsertOne        = "insert_one"
	operationInsertMany       = "insert_many"
	operationReplaceOne       = "replace_one"
	operationDeleteOne        = "delete_one"
	operationDeleteMany       = "delete_many"
	operationBulkWrite        = "bulk_write"
	operationAggregate        = "aggregate"
	operationEnsureCollection = "ensure_collection"
	operationBegin            = "begin"
	operationCommit           = "commit"
	operationRollback         = "rollback"
)

const (
	metricQueryDuration = "docstore_query_duration_seconds"
	metricQueryErrors   = "docstore_query_errors_total"
	metricLabelStatus   = "status"
)

const (
	spanNamePrefix        = "docstore.postgres."
	spanAttrOperation     = "operation"
	spanAttrCollection    = "collection"
	spanAttrCount         = "count"
	spanAttrErrorType     = "error_type"
	spanAttrDurationMS    = "duration_ms"
	spanAttrInTransaction = "in_transaction"
)

const (
	errorTypeDuplicateDocument = "duplicate_document"
	errorTypeDocumentNotFound  = "document_not_found"
	errorTypeInvalidArgument   = "invalid_argument"
	errorTypeInvalidState      = "invalid_state"
	errorTypeDatabase          = "database_error"
)

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (c *Client) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// logQueryWithDuration logs SQL statements with execution time at debug level if a logger is configured.
func (c *Client) logQueryWithDuration(ctx context.Context, sqlQuery, action string, duration time.Duration) {
	if c.logger != nil {
		c.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, c.toMilliseconds(duration), logAttrQuery, sqlQuery)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, c.toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if a logger is configured.
func (c *Client) logOperation(ctx context.Context, action string, args ...any) {
	if c.logger != nil {
		c.logger.Info(logMsgOperation+action, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logWarn logs non-critical issues at warn level if a logger is configured.
func (c *Client) logWarn(ctx context.Context, message string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(message, args...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.WarnContext(ctx, message, args...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (c *Client) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if c.logger != nil {
		c.logger.Error(message, allArgs...)
	}

	if c.contextualLogger != nil {
		c.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// recordDurationMetricsContext records duration metrics with context if the collector supports it.
func (c *Client) recordDurationMetricsContext(ctx context.Context, duration time.Duration, operation, status string) {
	if c.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		metricLabelStatus: status,
	}

	// Use context-aware method if available
	if contextualCollector, ok := c.metricsCollector.(docstore.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricQueryDuration, duration, labels)
	} else {
		c.metricsCollector.RecordDuration(metricQueryDuration, duration, labels)
	}
}

// recordErrorMetricsContext records error metrics with context if the collector supports it.
func (c *Client) recordErrorMetricsContext(ctx context.Context, operation, errType string) {
	if c.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		metricLabelStatus: docstore.StatusError,
		spanAttrErrorType: errType,
	}

	// Use context-aware method if available
	if contextualCollector, ok := c.metricsCollector.(docstore.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metricQueryErrors, labels)
	} else {
		c.metricsCollector.IncrementCounter(metricQueryErrors, labels)
	}
}

// === Operation Observer Pattern ===
// operationObserver encapsulates span, metrics and log handling of one collection operation.

type operationObserver struct {
	client     *Client
	ctx        context.Context
	span       docstore.SpanContext
	operation  string
	collection string
	countAttr  string
	start      time.Time
}

// startOperation starts the span of operation and returns the observer with the span's context.
func (c *Client) startOperation(
	ctx context.Context,
	operation, collection, countAttr string,
	inTransaction bool,
) (*operationObserver, context.Context) {

	var span docstore.SpanContext

	if c.tracingCollector != nil {
		ctx, span = c.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, map[string]string{
			spanAttrOperation:     operation,
			spanAttrCollection:    collection,
			spanAttrInTransaction: strconv.FormatBool(inTransaction),
		})
	}

	return &operationObserver{
		client:     c,
		ctx:        ctx,
		span:       span,
		operation:  operation,
		collection: collection,
		countAttr:  countAttr,
		start:      time.Now(),
	}, ctx
}

func (o *operationObserver) finishSuccess(count int64) {
	duration := time.Since(o.start)

	o.client.logOperation(o.ctx, o.operation,
		logAttrCollection, o.collection,
		o.countAttr, count,
		logAttrDurationMS, o.client.toMilliseconds(duration),
	)
	o.client.recordDurationMetricsContext(o.ctx, duration, o.operation, docstore.StatusSuccess)

	if o.span != nil {
		o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", o.client.toMilliseconds(duration)))
		o.client.tracingCollector.FinishSpan(o.span, docstore.StatusSuccess, map[string]string{
			spanAttrCount: strconv.FormatInt(count, 10),
		})
	}
}

func (o *operationObserver) finishError(err error) {
	duration := time.Since(o.start)
	errType := errorType(err)

	// not-found is reported through metrics and the span only
	if errType != errorTypeDocumentNotFound {
		o.client.logError(o.ctx, logMsgOperationFailed+o.operation, err,
			logAttrCollection, o.collection,
			logAttrDurationMS, o.client.toMilliseconds(duration),
		)
	}
	o.client.recordDurationMetricsContext(o.ctx, duration, o.operation, docstore.StatusError)
	o.client.recordErrorMetricsContext(o.ctx, o.operation, errType)

	if o.span != nil {
		o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", o.client.toMilliseconds(duration)))
		o.client.tracingCollector.FinishSpan(o.span, docstore.StatusError, map[string]string{
			spanAttrErrorType: errType,
		})
	}
}
