package memengine

import (
	"cmp"
	"fmt"
	"slices"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodedDocument is a stored document with its top-level fields decoded.
type decodedDocument struct {
	id     string
	body   []byte
	fields map[string]any
}

func decode(id string, body []byte) (decodedDocument, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(body, &fields); err != nil {
		return decodedDocument{}, docstore.ErrInvalidDocumentJSON
	}

	return decodedDocument{id: id, body: body, fields: fields}, nil
}

// canonical returns the JSON encoding of v, which makes 1 and 1.0 compare equal like jsonb containment does.
func canonical(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(encoded)
}

func matchesFilter(doc decodedDocument, filter docstore.Filter) bool {
	if ids := filter.IDs(); len(ids) > 0 && !slices.Contains(ids, doc.id) {
		return false
	}

	items := filter.Items()
	if len(items) == 0 {
		return true
	}

	return slices.ContainsFunc(items, func(item docstore.FilterItem) bool {
		return matchesItem(doc, item)
	})
}

func matchesItem(doc decodedDocument, item docstore.FilterItem) bool {
	predicates := item.Predicates()
	if len(predicates) == 0 {
		return true
	}

	matches := func(p docstore.FilterPredicate) bool {
		value, ok := doc.fields[p.Key()]
		return ok && canonical(value) == canonical(p.Val())
	}

	if item.AllPredicatesMustMatch() {
		for _, predicate := range predicates {
			if !matches(predicate) {
				return false
			}
		}

		return true
	}

	return slices.ContainsFunc(predicates, matches)
}

// typeRank orders JSON values by type the way jsonb does; a missing field ranks last.
func typeRank(v any, present bool) int {
	if !present {
		return 6
	}

	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case float64:
		return 2
	case bool:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}

func compareField(a, b decodedDocument, field string) int {
	av, aok := a.fields[field]
	bv, bok := b.fields[field]

	if c := cmp.Compare(typeRank(av, aok), typeRank(bv, bok)); c != 0 {
		return c
	}

	switch at := av.(type) {
	case string:
		return cmp.Compare(at, bv.(string))
	case float64:
		return cmp.Compare(at, bv.(float64))
	case bool:
		bb := bv.(bool)
		switch {
		case at == bb:
			return 0
		case !at:
			return -1
		default:
			return 1
		}
	case nil:
		return 0
	default:
		return cmp.Compare(canonical(av), canonical(bv))
	}
}

func sortDocuments(docs []decodedDocument, directives []docstore.SortDirective) {
	slices.SortStableFunc(docs, func(a, b decodedDocument) int {
		for _, directive := range directives {
			c := compareField(a, b, directive.Field)
			if directive.Descending {
				c = -c
			}

			if c != 0 {
				return c
			}
		}

		return cmp.Compare(a.id, b.id)
	})
}

func page(docs []decodedDocument, skip, limit int) []decodedDocument {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}

	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}

	return docs
}

func project(doc decodedDocument, fields []string) ([]byte, error) {
	if len(fields) == 0 {
		return slices.Clone(doc.body), nil
	}

	projected := make(map[string]any, len(fields))
	for _, field := range fields {
		projected[field] = doc.fields[field]
	}

	return json.Marshal(projected)
}

// groupKey renders a field value the way the ->> operator does: strings unquoted, JSON null and missing as "".
func groupKey(doc decodedDocument, field string) string {
	value, ok := doc.fields[field]
	if !ok || value == nil {
		return ""
	}

	if s, isString := value.(string); isString {
		return s
	}

	return canonical(value)
}
