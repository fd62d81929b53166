package memengine

import (
	"maps"
	"slices"
	"sync"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

type collectionKey struct {
	database   string
	collection string
}

// writeOp is one write against a collection. A delete with a non-nil filter removes every matching document.
type writeOp struct {
	target collectionKey
	model  docstore.WriteModel
	filter *docstore.Filter
}

// documents maps document ids to JSON bodies.
type documents map[string][]byte

// store holds the committed state of all databases of one named store.
// A single lock keeps multi-collection commits atomic.
type store struct {
	mu          sync.RWMutex
	collections map[collectionKey]documents
}

func newStore() *store {
	return &store{collections: make(map[collectionKey]documents)}
}

func (s *store) ensure(target collectionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[target]; !ok {
		s.collections[target] = make(documents)
	}
}

// snapshot returns a copy of the committed documents of target.
func (s *store) snapshot(target collectionKey) documents {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.collections[target])
}

// apply executes ops atomically: either all of them are applied or none is.
func (s *store) apply(ops []writeOp) (docstore.BulkWriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[collectionKey]documents)
	result := docstore.BulkWriteResult{}

	for _, op := range ops {
		docs, ok := staged[op.target]
		if !ok {
			docs = maps.Clone(s.collections[op.target])
			if docs == nil {
				docs = make(documents)
			}
			staged[op.target] = docs
		}

		if err := applyOne(docs, op, &result); err != nil {
			return docstore.BulkWriteResult{}, err
		}
	}

	for target, docs := range staged {
		s.collections[target] = docs
	}

	return result, nil
}

// applyOne applies op to docs and accumulates the affected counts in result.
func applyOne(docs documents, op writeOp, result *docstore.BulkWriteResult) error {
	document := op.model.Document

	switch op.model.Kind {
	case docstore.WriteInsert:
		if _, exists := docs[document.ID]; exists {
			return docstore.ErrDuplicateDocument
		}
		docs[document.ID] = slices.Clone(document.Body)
		result.Inserted++

	case docstore.WriteReplace:
		if _, exists := docs[document.ID]; exists {
			docs[document.ID] = slices.Clone(document.Body)
			result.Replaced++
		}

	case docstore.WriteDelete:
		if op.filter != nil {
			for id, body := range docs {
				decoded, err := decode(id, body)
				if err != nil {
					return err
				}

				if matchesFilter(decoded, *op.filter) {
					delete(docs, id)
					result.Deleted++
				}
			}

			return nil
		}

		if _, exists := docs[document.ID]; exists {
			delete(docs, document.ID)
			result.Deleted++
		}

	default:
		return docstore.ErrUnsupportedOperation
	}

	return nil
}
