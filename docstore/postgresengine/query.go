package postgresengine

import (
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrBuildingQueryFailed = fmt.Errorf("%w: building query failed", docstore.ErrOperationFailed)

const (
	dialectPostgres = "postgres"
	colID           = "id"
	colDocument     = "document"
	colUpdatedAt    = "updated_at"
	aliasGroupKey   = "group_key"
	aliasGroupCount = "group_count"
	castJsonb       = "?::jsonb"
	castText        = "?::text"
	fieldValue      = "document -> ?"
	fieldText       = "document ->> ?"
	containment     = "document @> ?::jsonb"
	fieldEquality   = "document -> ? = ?::jsonb"
	sqlNow          = "NOW()"
	sqlTrue         = "TRUE"
)

type sqlQueryString = string

func tableOf(schema, table string) exp.IdentifierExpression {
	return goqu.S(schema).Table(table)
}

func buildFindQuery(table exp.IdentifierExpression, query docstore.Query) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(table).
		Select(goqu.C(colID), documentColumn(query.Projection))

	selectStmt, err := addWhereClause(query.Filter, selectStmt)
	if err != nil {
		return "", err
	}

	order := make([]exp.OrderedExpression, 0, len(query.Sort)+1)
	for _, directive := range query.Sort {
		if directive.Descending {
			order = append(order, goqu.L(fieldValue, directive.Field).Desc())
		} else {
			order = append(order, goqu.L(fieldValue, directive.Field).Asc())
		}
	}
	order = append(order, goqu.C(colID).Asc())
	selectStmt = selectStmt.Order(order...)

	if query.Skip > 0 {
		selectStmt = selectStmt.Offset(uint(query.Skip))
	}

	if query.Limit > 0 {
		selectStmt = selectStmt.Limit(uint(query.Limit))
	}

	return toSQL(selectStmt)
}

// documentColumn selects the whole body or a jsonb object of the projected top-level fields.
// Projected fields missing from a document come back as JSON null.
func documentColumn(projection []string) any {
	if len(projection) == 0 {
		return goqu.C(colDocument)
	}

	args := make([]any, 0, 2*len(projection))
	for _, field := range projection {
		args = append(args, goqu.L(castText, field), goqu.L(fieldValue, field))
	}

	return goqu.Func("jsonb_build_object", args...).As(colDocument)
}

func buildFindOneQuery(table exp.IdentifierExpression, id string) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(table).
		Select(goqu.C(colID), goqu.C(colDocument)).
		Where(goqu.C(colID).Eq(id))

	return toSQL(selectStmt)
}

func buildCountQuery(table exp.IdentifierExpression, filter docstore.Filter) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(table).
		Select(goqu.COUNT(goqu.Star()))

	selectStmt, err := addWhereClause(filter, selectStmt)
	if err != nil {
		return "", err
	}

	return toSQL(selectStmt)
}

// buildAggregateQuery groups by the text value of field; JSON null and missing fields both group under "".
func buildAggregateQuery(table exp.IdentifierExpression, query docstore.AggregateQuery) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(table).
		Select(
			goqu.COALESCE(goqu.L(fieldText, query.GroupBy), "").As(aliasGroupKey),
			goqu.COUNT(goqu.Star()).As(aliasGroupCount),
		).
		GroupBy(goqu.C(aliasGroupKey)).
		Order(goqu.C(aliasGroupKey).Asc())

	selectStmt, err := addWhereClause(query.Filter, selectStmt)
	if err != nil {
		return "", err
	}

	return toSQL(selectStmt)
}

func buildInsertQuery(table exp.IdentifierExpression, documents []docstore.Document) (sqlQueryString, error) {
	rows := make([]any, 0, len(documents))
	for _, document := range documents {
		rows = append(rows, goqu.Record{
			colID:       document.ID,
			colDocument: goqu.L(castJsonb, string(document.Body)),
		})
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(table).
		Rows(rows...)

	return toSQL(insertStmt)
}

func buildReplaceQuery(table exp.IdentifierExpression, document docstore.Document) (sqlQueryString, error) {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(table).
		Set(goqu.Record{
			colDocument:  goqu.L(castJsonb, string(document.Body)),
			colUpdatedAt: goqu.L(sqlNow),
		}).
		Where(goqu.C(colID).Eq(document.ID))

	return toSQL(updateStmt)
}

func buildDeleteOneQuery(table exp.IdentifierExpression, id string) (sqlQueryString, error) {
	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(table).
		Where(goqu.C(colID).Eq(id))

	return toSQL(deleteStmt)
}

func buildDeleteManyQuery(table exp.IdentifierExpression, filter docstore.Filter) (sqlQueryString, error) {
	where, err := whereExpression(filter)
	if err != nil {
		return "", err
	}

	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(table).
		Where(where...)

	return toSQL(deleteStmt)
}

// createTableStatements returns the idempotent DDL of a collection table.
func createTableStatements(schema, table string) []sqlQueryString {
	qualified := pgx.Identifier{schema, table}.Sanitize()
	index := pgx.Identifier{table + "_document_idx"}.Sanitize()

	return []sqlQueryString{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize()),
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s ("+
				"id TEXT PRIMARY KEY, "+
				"document JSONB NOT NULL, "+
				"created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(), "+
				"updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW())",
			qualified,
		),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (document jsonb_path_ops)", index, qualified),
	}
}

func addWhereClause(filter docstore.Filter, selectStmt *goqu.SelectDataset) (*goqu.SelectDataset, error) {
	where, err := whereExpression(filter)
	if err != nil {
		return nil, err
	}

	if len(where) == 0 {
		return selectStmt, nil
	}

	return selectStmt.Where(where...), nil
}

// whereExpression translates filter: the id set AND the OR of the items.
// Each item combines its predicates with AND or OR; an item without predicates matches every document.
func whereExpression(filter docstore.Filter) ([]exp.Expression, error) {
	where := make([]exp.Expression, 0, 2)

	if ids := filter.IDs(); len(ids) > 0 {
		where = append(where, goqu.C(colID).In(ids))
	}

	items := filter.Items()
	if len(items) == 0 {
		return where, nil
	}

	itemsExpressions := make([]exp.Expression, 0, len(items))
	for _, item := range items {
		predicates := item.Predicates()
		if len(predicates) == 0 {
			itemsExpressions = append(itemsExpressions, goqu.L(sqlTrue))
			continue
		}

		predicateExpressions := make([]exp.Expression, 0, len(predicates))
		for _, predicate := range predicates {
			expression, err := predicateExpression(predicate)
			if err != nil {
				return nil, err
			}

			predicateExpressions = append(predicateExpressions, expression)
		}

		var predicatesExpressionList exp.ExpressionList

		if item.AllPredicatesMustMatch() {
			predicatesExpressionList = goqu.And(predicateExpressions...)
		} else {
			predicatesExpressionList = goqu.Or(predicateExpressions...)
		}

		itemsExpressions = append(itemsExpressions, predicatesExpressionList)
	}

	return append(where, goqu.Or(itemsExpressions...)), nil
}

// predicateExpression matches a top-level key by jsonb containment. Containment of arrays and objects
// also matches supersets, so composite values additionally require jsonb equality.
func predicateExpression(predicate docstore.FilterPredicate) (exp.Expression, error) {
	value, err := json.Marshal(predicate.Val())
	if err != nil {
		return nil, errors.Join(docstore.ErrInvalidArgument, err)
	}

	contained, err := json.Marshal(map[string]any{predicate.Key(): predicate.Val()})
	if err != nil {
		return nil, errors.Join(docstore.ErrInvalidArgument, err)
	}

	expression := goqu.L(containment, string(contained))

	if len(value) > 0 && (value[0] == '[' || value[0] == '{') {
		return goqu.And(expression, goqu.L(fieldEquality, predicate.Key(), string(value))), nil
	}

	return expression, nil
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func toSQL(builder sqlBuilder) (sqlQueryString, error) {
	sqlQuery, _, toSQLErr := builder.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}
