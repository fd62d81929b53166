package postgresengine

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// SQLSTATE codes the engine reacts to.
const (
	sqlStateUniqueViolation = "23505"
	sqlStateDuplicateSchema = "42P06"
	sqlStateDuplicateTable  = "42P07"
	sqlStateDuplicateObject = "42710"
)

// sqlState extracts the SQLSTATE of a pgx or lib/pq error, or "" for other errors.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	return ""
}

// mapError classifies a database error: unique violations become ErrDuplicateDocument,
// everything else is joined with ErrOperationFailed unless it is already classified.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if sqlState(err) == sqlStateUniqueViolation {
		return errors.Join(docstore.ErrDuplicateDocument, err)
	}

	return docstore.OperationFailed(err)
}

// isAlreadyExists reports errors of concurrent CREATE ... IF NOT EXISTS statements that lost the race.
func isAlreadyExists(err error) bool {
	switch sqlState(err) {
	case sqlStateUniqueViolation, sqlStateDuplicateSchema, sqlStateDuplicateTable, sqlStateDuplicateObject:
		return true
	default:
		return false
	}
}

// errorType names the class of err for metrics labels and span attributes.
func errorType(err error) string {
	switch {
	case errors.Is(err, docstore.ErrDuplicateDocument):
		return errorTypeDuplicateDocument
	case errors.Is(err, docstore.ErrDocumentNotFound):
		return errorTypeDocumentNotFound
	case errors.Is(err, docstore.ErrInvalidArgument):
		return errorTypeInvalidArgument
	case errors.Is(err, docstore.ErrInvalidState):
		return errorTypeInvalidState
	default:
		return errorTypeDatabase
	}
}
