package store

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Firestore struct {
	client *firestore.Client
}

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

type firestoreDocument struct {
	snap *firestore.DocumentSnapshot
}

func (d firestoreDocument) ID() string { return d.snap.Ref.ID }

func (d firestoreDocument) DataTo(v any) error { return d.snap.DataTo(v) }

func (f *Firestore) Query(q Query) Live {
	return &firestoreLive{query: f.build(q)}
}

func (f *Firestore) List(ctx context.Context, q Query) ([]Document, error) {
	snaps, err := f.build(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError(err)
	}
	return wrap(snaps), nil
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	return firestoreDocument{snap: snap}, nil
}

func (f *Firestore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, translateMap(data))
	if err != nil {
		return "", mapError(err)
	}
	return ref.ID, nil
}

func (f *Firestore) CreateWithID(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := f.client.Collection(collection).Doc(id).Create(ctx, translateMap(data))
	return mapError(err)
}

func (f *Firestore) Update(ctx context.Context, collection, id string, updates ...Update) error {
	fu := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		fu = append(fu, firestore.Update{Path: u.Path, Value: translate(u.Value)})
	}
	_, err := f.client.Collection(collection).Doc(id).Update(ctx, fu)
	return mapError(err)
}

// Delete removes the document; deleting a missing document is not an error.
func (f *Firestore) Delete(ctx context.Context, collection, id string) error {
	_, err := f.client.Collection(collection).Doc(id).Delete(ctx)
	return mapError(err)
}

func (f *Firestore) build(q Query) firestore.Query {
	fq := f.client.Collection(q.Collection).Query
	for _, flt := range q.Filters {
		fq = fq.Where(flt.Path, string(flt.Op), flt.Value)
	}
	for _, o := range q.Orders {
		fq = fq.OrderBy(o.Path, direction(o.Direction))
	}
	// ties resolve by document id in the direction of the last ordering
	if n := len(q.Orders); n > 0 {
		fq = fq.OrderBy(firestore.DocumentID, direction(q.Orders[n-1].Direction))
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

type firestoreLive struct {
	query firestore.Query
}

func (l *firestoreLive) Subscribe(onSnapshot func([]Document), onError func(error)) Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		it := l.query.Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, iterator.Done) && status.Code(err) != codes.Canceled {
					onError(mapError(err))
				}
				return
			}
			docs, err := snap.Documents.GetAll()
			if err != nil {
				if ctx.Err() == nil {
					onError(mapError(err))
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			onSnapshot(wrap(docs))
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func wrap(snaps []*firestore.DocumentSnapshot) []Document {
	docs := make([]Document, 0, len(snaps))
	for _, s := range snaps {
		docs = append(docs, firestoreDocument{snap: s})
	}
	return docs
}

func direction(d Direction) firestore.Direction {
	if d == Desc {
		return firestore.Desc
	}
	return firestore.Asc
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrAlreadyExists
	}
	return err
}

func translateMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = translate(v)
	}
	return out
}

func translate(v any) any {
	switch t := v.(type) {
	case ServerTimestampValue:
		return firestore.ServerTimestamp
	case Increment:
		return firestore.Increment(t.By)
	case ArrayUnion:
		return firestore.ArrayUnion(t...)
	case ArrayRemove:
		return firestore.ArrayRemove(t...)
	case map[string]any:
		return translateMap(t)
	}
	return v
}
