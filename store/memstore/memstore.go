// Package memstore is an in-memory store.DocumentStore and store.BlobStore.
//
// Snapshots are delivered synchronously from the writing goroutine, one
// callback at a time per subscription, and are computed at delivery time,
// so a subscription never observes an older state after a newer one.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klipach/contractmatch/store"
)

type Option func(*Store)

// WithClock replaces time.Now as the source of server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	now func() time.Time

	mu    sync.RWMutex
	seq   uint64
	colls map[string]map[string]*record

	subMu sync.Mutex
	subs  map[*subscription]struct{}
}

type record struct {
	id   string
	seq  uint64
	data map[string]any
}

func New(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		colls: make(map[string]map[string]*record),
		subs:  make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type document struct {
	id   string
	data map[string]any
}

func (d document) ID() string { return d.id }

// DataTo decodes through JSON, so destination types use json tags that
// mirror their firestore tags.
func (d document) DataTo(v any) error {
	raw, err := json.Marshal(d.data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (s *Store) Query(q store.Query) store.Live {
	return &live{store: s, query: q}
}

func (s *Store) List(_ context.Context, q store.Query) ([]store.Document, error) {
	return s.run(q), nil
}

func (s *Store) Get(_ context.Context, collection, id string) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.colls[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return document{id: rec.id, data: deepCopy(rec.data)}, nil
}

func (s *Store) Create(_ context.Context, collection string, data map[string]any) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	s.insertLocked(collection, id, data)
	s.mu.Unlock()
	s.notify(collection)
	return id, nil
}

func (s *Store) CreateWithID(_ context.Context, collection, id string, data map[string]any) error {
	s.mu.Lock()
	if _, ok := s.colls[collection][id]; ok {
		s.mu.Unlock()
		return store.ErrAlreadyExists
	}
	s.insertLocked(collection, id, data)
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

func (s *Store) Update(_ context.Context, collection, id string, updates ...store.Update) error {
	s.mu.Lock()
	rec, ok := s.colls[collection][id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	now := s.now()
	for _, u := range updates {
		if err := apply(rec.data, u, now); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	_, ok := s.colls[collection][id]
	delete(s.colls[collection], id)
	s.mu.Unlock()
	if ok {
		s.notify(collection)
	}
	return nil
}

// Break terminates every live subscription on collection with err, the way
// a listener is torn down after a permission or network failure.
func (s *Store) Break(collection string, err error) {
	for _, sub := range s.subscribers(collection) {
		sub.fail(err)
	}
}

func (s *Store) insertLocked(collection, id string, data map[string]any) {
	coll, ok := s.colls[collection]
	if !ok {
		coll = make(map[string]*record)
		s.colls[collection] = coll
	}
	s.seq++
	coll[id] = &record{
		id:   id,
		seq:  s.seq,
		data: normalize(data, s.now()).(map[string]any),
	}
}

func (s *Store) run(q store.Query) []store.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*record
	for _, rec := range s.colls[q.Collection] {
		if matches(rec.data, q) {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return less(matched[i], matched[j], q.Orders)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	docs := make([]store.Document, 0, len(matched))
	for _, rec := range matched {
		docs = append(docs, document{id: rec.id, data: deepCopy(rec.data)})
	}
	return docs
}

func matches(data map[string]any, q store.Query) bool {
	for _, f := range q.Filters {
		v, ok := lookup(data, f.Path)
		if !ok {
			return false
		}
		want := normalize(f.Value, time.Time{})
		switch f.Op {
		case store.OpEqual:
			if compare(v, want) != 0 {
				return false
			}
		case store.OpArrayContains:
			arr, ok := v.([]any)
			if !ok || !containsValue(arr, want) {
				return false
			}
		default:
			return false
		}
	}
	// documents missing an ordered field are not part of the result
	for _, o := range q.Orders {
		if _, ok := lookup(data, o.Path); !ok {
			return false
		}
	}
	return true
}

func less(a, b *record, orders []store.Order) bool {
	dir := store.Asc
	for _, o := range orders {
		dir = o.Direction
		av, _ := lookup(a.data, o.Path)
		bv, _ := lookup(b.data, o.Path)
		c := compare(av, bv)
		if c == 0 {
			continue
		}
		if o.Direction == store.Desc {
			return c > 0
		}
		return c < 0
	}
	if dir == store.Desc {
		return a.seq > b.seq
	}
	return a.seq < b.seq
}

func apply(data map[string]any, u store.Update, now time.Time) error {
	parts := strings.Split(u.Path, ".")
	parent := data
	for _, p := range parts[:len(parts)-1] {
		next, ok := parent[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			parent[p] = next
		}
		parent = next
	}
	key := parts[len(parts)-1]

	switch t := u.Value.(type) {
	case store.Increment:
		cur, _ := toInt(parent[key])
		parent[key] = cur + t.By
	case store.ArrayUnion:
		arr, _ := parent[key].([]any)
		for _, e := range t {
			e = normalize(e, now)
			if !containsValue(arr, e) {
				arr = append(arr, e)
			}
		}
		if arr == nil {
			arr = []any{}
		}
		parent[key] = arr
	case store.ArrayRemove:
		arr, _ := parent[key].([]any)
		kept := make([]any, 0, len(arr))
		for _, e := range arr {
			if !containsValue(normalize([]any(t), now).([]any), e) {
				kept = append(kept, e)
			}
		}
		parent[key] = kept
	default:
		parent[key] = normalize(u.Value, now)
	}
	return nil
}

func lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalize converts written values to the small set of types the store
// keeps: map[string]any, []any, string, bool, int64, float64, time.Time, nil.
func normalize(v any, now time.Time) any {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return t
	case time.Time:
		return t.UTC()
	case store.ServerTimestampValue:
		return now.UTC()
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e, now)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, normalize(e, now))
		}
		return out
	case []string:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, e)
		}
		return out
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Sprint(v)
	}
	return normalize(generic, now)
}

func deepCopy(data map[string]any) map[string]any {
	return normalize(data, time.Time{}).(map[string]any)
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if compare(e, v) == 0 {
			return true
		}
	}
	return false
}

// compare orders values of the same kind; values of different kinds order
// by kind rank, roughly the way Firestore orders mixed types.
func compare(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	switch at := a.(type) {
	case string:
		if bt, ok := b.(string); ok {
			return strings.Compare(at, bt)
		}
	case time.Time:
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	case bool:
		if bt, ok := b.(bool); ok {
			switch {
			case at == bt:
				return 0
			case !at:
				return -1
			}
			return 1
		}
	}
	ra, rb := rank(a), rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case []any:
		return 5
	case map[string]any:
		return 6
	}
	return 7
}
