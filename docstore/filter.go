package docstore

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

/***** Filter *****/

// Filter is a declarative predicate over documents.
// Items are OR-ed; a Filter without items and ids matches every document.
type Filter struct {
	ids   []string
	items []FilterItem
}

func (f Filter) IDs() []string {
	return f.ids
}

func (f Filter) Items() []FilterItem {
	return f.items
}

// IsEmpty reports whether the Filter matches every document.
func (f Filter) IsEmpty() bool {
	return len(f.ids) == 0 && len(f.items) == 0
}

/***** FilterItem *****/

type FilterItem struct {
	predicates             []FilterPredicate
	allPredicatesMustMatch bool
}

func (fi FilterItem) Predicates() []FilterPredicate {
	return fi.predicates
}

func (fi FilterItem) AllPredicatesMustMatch() bool {
	return fi.allPredicatesMustMatch
}

/***** FilterPredicate *****/

// FilterPredicate matches documents whose top-level field Key equals Val.
// Val must be a JSON scalar: string, bool, nil or a number.
type FilterPredicate struct {
	key string
	val any
}

// P is a factory method for FilterPredicate.
func P(key string, val any) FilterPredicate {
	return FilterPredicate{key: key, val: val}
}

func (fp FilterPredicate) Key() string {
	return fp.key
}

func (fp FilterPredicate) Val() any {
	return fp.val
}

/***** FilterBuilder *****/

// FilterBuilder builds a driver-agnostic document filter which drivers translate into their query language.
// Supported shapes:
//
//   - empty filter (all documents)
//   - (id OR id...)
//   - (predicate)
//   - (predicate OR predicate...)
//   - (predicate AND predicate...)
//   - ((predicate AND predicate...) OR (predicate AND predicate...)...) -> multiple FilterItem(s)
type FilterBuilder interface {
	// Matching starts a new FilterItem.
	Matching() EmptyFilterItemBuilder

	// MatchingAnyDocument directly creates an empty Filter.
	MatchingAnyDocument() Filter

	// MatchingIDs directly creates a Filter matching the given document ids.
	MatchingIDs(id string, ids ...string) Filter
}

type EmptyFilterItemBuilder interface {
	// AnyPredicateOf adds one or multiple FilterPredicate(s) to the current FilterItem, ANY must match.
	//
	// It sanitizes the input:
	//	- removing predicates with an empty key
	//	- sorting the FilterPredicate(s)
	//	- removing duplicate FilterPredicate(s)
	AnyPredicateOf(predicate FilterPredicate, predicates ...FilterPredicate) CompletedFilterItemBuilder

	// AllPredicatesOf adds one or multiple FilterPredicate(s) to the current FilterItem, ALL must match.
	AllPredicatesOf(predicate FilterPredicate, predicates ...FilterPredicate) CompletedFilterItemBuilder
}

type CompletedFilterItemBuilder interface {
	// OrMatching finalizes the current FilterItem and starts a new one.
	OrMatching() EmptyFilterItemBuilder

	// Finalize returns the Filter.
	Finalize() Filter
}

type filterBuilder struct {
	filter            Filter
	currentFilterItem FilterItem
}

// BuildFilter creates a FilterBuilder which must eventually be finalized.
func BuildFilter() FilterBuilder {
	return filterBuilder{}
}

func (fb filterBuilder) Matching() EmptyFilterItemBuilder {
	fb.currentFilterItem = FilterItem{}

	return fb
}

func (fb filterBuilder) MatchingAnyDocument() Filter {
	return fb.filter
}

func (fb filterBuilder) MatchingIDs(id string, ids ...string) Filter {
	allIDs := append([]string{id}, ids...)
	allIDs = slices.DeleteFunc(allIDs, func(e string) bool { return strings.TrimSpace(e) == "" })
	slices.Sort(allIDs)
	fb.filter.ids = slices.Clip(slices.Compact(allIDs))

	return fb.filter
}

func (fb filterBuilder) AnyPredicateOf(predicate FilterPredicate, predicates ...FilterPredicate) CompletedFilterItemBuilder {
	fb.currentFilterItem.predicates = append(
		fb.currentFilterItem.predicates,
		fb.sanitizePredicates(predicate, predicates...)...,
	)

	return fb
}

func (fb filterBuilder) AllPredicatesOf(predicate FilterPredicate, predicates ...FilterPredicate) CompletedFilterItemBuilder {
	fb.currentFilterItem.allPredicatesMustMatch = true

	return fb.AnyPredicateOf(predicate, predicates...)
}

func (fb filterBuilder) sanitizePredicates(predicate FilterPredicate, predicates ...FilterPredicate) []FilterPredicate {
	allPredicates := append([]FilterPredicate{predicate}, predicates...)
	allPredicates = slices.DeleteFunc(allPredicates, func(e FilterPredicate) bool { return e.key == "" })
	slices.SortFunc(allPredicates, func(a, b FilterPredicate) int {
		if c := cmp.Compare(a.key, b.key); c != 0 {
			return c
		}

		return cmp.Compare(fmt.Sprint(a.val), fmt.Sprint(b.val))
	})

	allPredicates = slices.CompactFunc(allPredicates, func(a, b FilterPredicate) bool {
		return a.key == b.key && fmt.Sprint(a.val) == fmt.Sprint(b.val)
	})

	return slices.Clip(allPredicates)
}

func (fb filterBuilder) OrMatching() EmptyFilterItemBuilder {
	fb.filter.items = append(fb.filter.items, fb.currentFilterItem)
	fb.currentFilterItem = FilterItem{}

	return fb
}

func (fb filterBuilder) Finalize() Filter {
	fb.filter.items = append(fb.filter.items, fb.currentFilterItem)

	return fb.filter
}

/***** Query *****/

// SortDirective orders query results by a top-level document field.
type SortDirective struct {
	Field      string
	Descending bool
}

// Query is the declarative query descriptor handed to Collection.Find.
// Limit zero means "no limit".
type Query struct {
	Filter     Filter
	Sort       []SortDirective
	Projection []string
	Skip       int
	Limit      int
}

// NewQuery creates a Query for the given Filter.
func NewQuery(filter Filter) Query {
	return Query{Filter: filter}
}

// SortBy appends an ascending sort directive.
func (q Query) SortBy(field string) Query {
	q.Sort = append(slices.Clone(q.Sort), SortDirective{Field: field})
	return q
}

// SortByDescending appends a descending sort directive.
func (q Query) SortByDescending(field string) Query {
	q.Sort = append(slices.Clone(q.Sort), SortDirective{Field: field, Descending: true})
	return q
}

// Project restricts the returned document bodies to the given top-level fields.
func (q Query) Project(fields ...string) Query {
	q.Projection = slices.Clone(fields)
	return q
}

// Top limits the result to the first n documents.
func (q Query) Top(n int) Query {
	q.Skip = 0
	q.Limit = max(n, 0)
	return q
}

// Page selects the zero-based page of the given size.
func (q Query) Page(page, size int) Query {
	page = max(page, 0)
	size = max(size, 0)
	q.Skip = page * size
	q.Limit = size
	return q
}
