// Package store defines the contracts of the backing services the app
// talks to: a document store with live queries and a blob store.
// Adapters for Firestore and Firebase Storage live next to the contracts,
// an in-memory implementation lives in store/memstore.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
)

type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Filter struct {
	Path  string
	Op    Op
	Value any
}

type Order struct {
	Path      string
	Direction Direction
}

// Query selects documents of one collection. Collection may be a nested
// path such as "conversations/abc/messages".
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Limit      int
}

func Collection(path string) Query {
	return Query{Collection: path}
}

func (q Query) Where(path string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Path: path, Op: op, Value: value})
	return q
}

func (q Query) OrderBy(path string, dir Direction) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Path: path, Direction: dir})
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

type Document interface {
	ID() string
	DataTo(v any) error
}

// Update sets the value at a dotted field path, e.g. "lastMessage.content".
type Update struct {
	Path  string
	Value any
}

// Unsubscribe releases a live subscription. Once it returns no further
// callbacks of that subscription are invoked. It must not be called from
// inside that subscription's own callbacks.
type Unsubscribe func()

// Live is a standing query. Every Subscribe call opens an independent
// subscription that redelivers the full ordered result set to onSnapshot
// on every change, starting with the current result set. Callbacks of one
// subscription never run concurrently and are delivered in store write
// order. onError is terminal: the subscription delivers nothing after it.
type Live interface {
	Subscribe(onSnapshot func([]Document), onError func(error)) Unsubscribe
}

type DocumentStore interface {
	Query(q Query) Live
	List(ctx context.Context, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	CreateWithID(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, updates ...Update) error
	Delete(ctx context.Context, collection, id string) error
}

type BlobStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
	PublicURL(path string) string
}

// Write transforms. They may appear as values in Create data (at any map
// depth) and in Update values.

type ServerTimestampValue struct{}

// ServerTimestamp is replaced by the store's clock at write time.
var ServerTimestamp = ServerTimestampValue{}

type Increment struct {
	By int64
}

type ArrayUnion []any

type ArrayRemove []any
