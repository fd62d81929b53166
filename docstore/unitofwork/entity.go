package unitofwork

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entity is a type stored as one document.
type Entity interface {
	DocumentID() string
}

// CollectionNamer lets an Entity choose its collection. Without it the snake_case type name is used.
type CollectionNamer interface {
	CollectionName() string
}

// CollectionNameOf returns the collection name of T.
func CollectionNameOf[T Entity]() string {
	typ := reflect.TypeFor[T]()
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	if namer, ok := reflect.New(typ).Interface().(CollectionNamer); ok {
		if name := strings.TrimSpace(namer.CollectionName()); name != "" {
			return name
		}
	}

	return toSnakeCase(typ.Name())
}

// toSnakeCase converts a Go type name: "BookLoan" -> "book_loan", "HTTPLog" -> "http_log".
func toSnakeCase(name string) string {
	runes := []rune(name)

	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			startsWord := i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])))
			if startsWord {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

func isNil(entity any) bool {
	if entity == nil {
		return true
	}

	v := reflect.ValueOf(entity)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

func encode[T Entity](entity T) (docstore.Document, error) {
	if isNil(entity) {
		return docstore.Document{}, docstore.ErrNilEntity
	}

	body, err := json.Marshal(entity)
	if err != nil {
		return docstore.Document{}, errors.Join(docstore.ErrInvalidArgument, err)
	}

	return docstore.BuildDocument(entity.DocumentID(), body)
}

func decode[T Entity](document docstore.Document) (T, error) {
	var entity T
	if err := json.Unmarshal(document.Body, &entity); err != nil {
		return entity, docstore.OperationFailed(err)
	}

	return entity, nil
}
