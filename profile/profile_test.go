package profile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/store"
	"github.com/klipach/contractmatch/store/memstore"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough for MIME sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type countingStore struct {
	store.DocumentStore

	mu   sync.Mutex
	gets map[string]int
	fail map[string]error
}

func newCountingStore(inner store.DocumentStore) *countingStore {
	return &countingStore{DocumentStore: inner, gets: make(map[string]int), fail: make(map[string]error)}
}

func (c *countingStore) Get(ctx context.Context, collection, id string) (store.Document, error) {
	c.mu.Lock()
	c.gets[id]++
	err := c.fail[id]
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.DocumentStore.Get(ctx, collection, id)
}

func (c *countingStore) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets[id]
}

func seed(t *testing.T, st store.DocumentStore, kind Kind, uid, first, last string) {
	t.Helper()
	coll, err := kind.Collection()
	require.NoError(t, err)
	require.NoError(t, st.CreateWithID(context.Background(), coll, uid, map[string]any{
		"firstName":       first,
		"lastName":        last,
		"role":            kind.String(),
		"specialties":     []string{},
		"connections":     []string{},
		"pendingSent":     []string{},
		"pendingReceived": []string{},
	}))
}

func TestGetAndLocate(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(t, st, KindContractor, "c1", "Carla", "Builder")
	repo := NewRepository(st, memstore.NewBlobs("b"))

	p, err := repo.Get(ctx, KindContractor, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", p.ID)
	assert.Equal(t, "Carla Builder", p.DisplayName())

	_, err = repo.Get(ctx, KindRealtor, "c1")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	p, kind, err := repo.Locate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, KindContractor, kind)
	assert.Equal(t, "Carla", p.FirstName)

	_, _, err = repo.Locate(ctx, "ghost")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, err = repo.Get(ctx, KindUnknown, "c1")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(t, st, KindRealtor, "r1", "Rita", "Homes")
	repo := NewRepository(st, memstore.NewBlobs("b"))

	p, err := repo.Update(ctx, Ref{UID: "r1"}, contract.ProfileUpdateRequest{
		FirstName:   " Rita ",
		LastName:    "Homes",
		Company:     "Homes & Co",
		Location:    "Austin",
		About:       "Selling homes",
		Specialties: []string{"Luxury", " luxury", "", "Condos"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Rita", p.FirstName)
	assert.Equal(t, "Homes & Co", p.Company)
	assert.Equal(t, []string{"Luxury", "Condos"}, p.Specialties)
	assert.Contains(t, p.AboutHTML, "<p>Selling homes</p>")

	_, err = repo.Update(ctx, Ref{UID: "r1", Kind: KindRealtor}, contract.ProfileUpdateRequest{LastName: "Homes"})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	_, err = repo.Update(ctx, Ref{UID: "ghost", Kind: KindRealtor}, contract.ProfileUpdateRequest{FirstName: "a", LastName: "b"})
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestUploadPhoto(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(t, st, KindContractor, "c1", "Carla", "Builder")
	blobs := memstore.NewBlobs("bucket")
	repo := NewRepository(st, blobs, WithMaxPhotoBytes(1024))

	url, err := repo.UploadPhoto(ctx, Ref{UID: "c1", Kind: KindContractor}, pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "memory://bucket/profilePhotos/c1", url)

	obj, ok := blobs.Object("profilePhotos/c1")
	require.True(t, ok)
	assert.Equal(t, "image/png", obj.ContentType)

	p, err := repo.Get(ctx, KindContractor, "c1")
	require.NoError(t, err)
	assert.Equal(t, url, p.PhotoURL)

	_, err = repo.UploadPhoto(ctx, Ref{UID: "c1"}, []byte("just some text"))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = repo.UploadPhoto(ctx, Ref{UID: "c1"}, make([]byte, 2048))
	assert.ErrorIs(t, err, ErrPhotoTooLarge)
}

func TestNormalizeSpecialties(t *testing.T) {
	assert.Equal(t, []string{"Roofing", "HVAC"}, NormalizeSpecialties([]string{" Roofing", "HVAC", "roofing ", "  "}))
	assert.Empty(t, NormalizeSpecialties(nil))
}

func connectionSets(t *testing.T, repo *Repository, uid string) (connected, sent, received []string) {
	t.Helper()
	p, _, err := repo.Locate(context.Background(), uid)
	require.NoError(t, err)
	return p.Connections, p.PendingSent, p.PendingReceived
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(t, st, KindRealtor, "r1", "Rita", "Homes")
	seed(t, st, KindContractor, "c1", "Carla", "Builder")
	repo := NewRepository(st, memstore.NewBlobs("b"))
	rita := Ref{UID: "r1", Kind: KindRealtor}
	carla := Ref{UID: "c1"}

	assert.ErrorIs(t, repo.RequestConnection(ctx, rita, "r1"), ErrSelfConnection)
	assert.ErrorIs(t, repo.AcceptConnection(ctx, carla, "r1"), ErrNoPendingRequest)

	require.NoError(t, repo.RequestConnection(ctx, rita, "c1"))
	assert.ErrorIs(t, repo.RequestConnection(ctx, rita, "c1"), ErrRequestPending)
	assert.ErrorIs(t, repo.RequestConnection(ctx, carla, "r1"), ErrRequestPending)

	_, sent, _ := connectionSets(t, repo, "r1")
	assert.Equal(t, []string{"c1"}, sent)
	_, _, received := connectionSets(t, repo, "c1")
	assert.Equal(t, []string{"r1"}, received)

	require.NoError(t, repo.AcceptConnection(ctx, carla, "r1"))
	for _, uid := range []string{"r1", "c1"} {
		connected, sent, received := connectionSets(t, repo, uid)
		assert.Len(t, connected, 1, uid)
		assert.Empty(t, sent, uid)
		assert.Empty(t, received, uid)
	}
	assert.ErrorIs(t, repo.RequestConnection(ctx, rita, "c1"), ErrAlreadyConnected)

	require.NoError(t, repo.RemoveConnection(ctx, rita, "c1"))
	connected, _, _ := connectionSets(t, repo, "c1")
	assert.Empty(t, connected)
	assert.ErrorIs(t, repo.RemoveConnection(ctx, rita, "c1"), ErrNotConnected)
}

func TestDeclineAndWithdraw(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(t, st, KindRealtor, "r1", "Rita", "Homes")
	seed(t, st, KindContractor, "c1", "Carla", "Builder")
	repo := NewRepository(st, memstore.NewBlobs("b"))

	require.NoError(t, repo.RequestConnection(ctx, Ref{UID: "r1"}, "c1"))
	require.NoError(t, repo.DeclineConnection(ctx, Ref{UID: "c1"}, "r1"))
	_, sent, _ := connectionSets(t, repo, "r1")
	assert.Empty(t, sent)

	require.NoError(t, repo.RequestConnection(ctx, Ref{UID: "r1"}, "c1"))
	require.NoError(t, repo.RemoveConnection(ctx, Ref{UID: "r1"}, "c1"))
	_, _, received := connectionSets(t, repo, "c1")
	assert.Empty(t, received)
}

// flakyWrites fails the next Update of the listed documents once.
type flakyWrites struct {
	store.DocumentStore

	mu   sync.Mutex
	fail map[string]error
}

func (f *flakyWrites) failNextUpdate(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[id] = err
}

func (f *flakyWrites) Update(ctx context.Context, collection, id string, updates ...store.Update) error {
	f.mu.Lock()
	err := f.fail[id]
	delete(f.fail, id)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.DocumentStore.Update(ctx, collection, id, updates...)
}

// assertSingleSet checks that uid keeps other in exactly the expected set,
// or in none when want is empty.
func assertSingleSet(t *testing.T, repo *Repository, uid, other, want string) {
	t.Helper()
	connected, sent, received := connectionSets(t, repo, uid)
	got := map[string]bool{
		connectionsField:     lo.Contains(connected, other),
		pendingSentField:     lo.Contains(sent, other),
		pendingReceivedField: lo.Contains(received, other),
	}
	for field, present := range got {
		assert.Equal(t, field == want, present, "%s.%s contains %s", uid, field, other)
	}
}

func TestConnectionsSettleAfterFailedWrite(t *testing.T) {
	ctx := context.Background()
	unavailable := errors.New("unavailable")

	setup := func(t *testing.T) (*Repository, *flakyWrites) {
		st := &flakyWrites{DocumentStore: memstore.New(), fail: make(map[string]error)}
		seed(t, st, KindRealtor, "r1", "Rita", "Homes")
		seed(t, st, KindContractor, "c1", "Carla", "Builder")
		repo := NewRepository(st, memstore.NewBlobs("b"))
		require.NoError(t, repo.RequestConnection(ctx, Ref{UID: "r1"}, "c1"))

		st.failNextUpdate("r1", unavailable)
		require.ErrorIs(t, repo.AcceptConnection(ctx, Ref{UID: "c1"}, "r1"), unavailable)
		assertSingleSet(t, repo, "c1", "r1", connectionsField)
		return repo, st
	}

	t.Run("withdraw then request again", func(t *testing.T) {
		repo, _ := setup(t)
		require.NoError(t, repo.RemoveConnection(ctx, Ref{UID: "r1"}, "c1"))
		assertSingleSet(t, repo, "r1", "c1", "")
		assertSingleSet(t, repo, "c1", "r1", "")

		require.NoError(t, repo.RequestConnection(ctx, Ref{UID: "r1"}, "c1"))
		assertSingleSet(t, repo, "r1", "c1", pendingSentField)
		assertSingleSet(t, repo, "c1", "r1", pendingReceivedField)
	})

	t.Run("request finishes the accept", func(t *testing.T) {
		repo, _ := setup(t)
		assert.ErrorIs(t, repo.RequestConnection(ctx, Ref{UID: "r1"}, "c1"), ErrAlreadyConnected)
		assertSingleSet(t, repo, "r1", "c1", connectionsField)
		assertSingleSet(t, repo, "c1", "r1", connectionsField)
	})

	t.Run("accept again finishes the accept", func(t *testing.T) {
		repo, _ := setup(t)
		assert.ErrorIs(t, repo.AcceptConnection(ctx, Ref{UID: "c1"}, "r1"), ErrAlreadyConnected)
		assertSingleSet(t, repo, "r1", "c1", connectionsField)
	})

	t.Run("decline is refused once connected", func(t *testing.T) {
		repo, st := setup(t)
		assert.ErrorIs(t, repo.DeclineConnection(ctx, Ref{UID: "c1"}, "r1"), ErrNoPendingRequest)

		st.failNextUpdate("c1", unavailable)
		require.ErrorIs(t, repo.RemoveConnection(ctx, Ref{UID: "r1"}, "c1"), unavailable)
		require.NoError(t, repo.RemoveConnection(ctx, Ref{UID: "c1"}, "r1"))
		assertSingleSet(t, repo, "r1", "c1", "")
		assertSingleSet(t, repo, "c1", "r1", "")
	})
}

func TestResolverFetchesEachIDOnce(t *testing.T) {
	ctx := context.Background()
	st := newCountingStore(memstore.New())
	seed(t, st, KindContractor, "userB", "Bob", "Pipes")
	seed(t, st, KindContractor, "userC", "Cleo", "Tiles")
	resolver := NewResolver(NewRepository(st, memstore.NewBlobs("b")), 4)

	refs := []Ref{
		{UID: "userB", Kind: KindContractor},
		{UID: "userC", Kind: KindContractor},
		{UID: "userB", Kind: KindContractor},
		{UID: "userC", Kind: KindContractor},
		{UID: "userB", Kind: KindContractor},
	}
	require.NoError(t, resolver.Resolve(ctx, refs))
	require.NoError(t, resolver.Resolve(ctx, refs))

	assert.Equal(t, 1, st.count("userB"))
	assert.Equal(t, 1, st.count("userC"))

	p, known, resolved := resolver.Lookup("userC")
	assert.True(t, resolved)
	assert.True(t, known)
	assert.Equal(t, "Cleo", p.FirstName)

	resolver.Invalidate()
	_, _, resolved = resolver.Lookup("userC")
	assert.False(t, resolved)
	require.NoError(t, resolver.Resolve(ctx, refs[:1]))
	assert.Equal(t, 2, st.count("userB"))
}

func TestResolverUnknownAndFailures(t *testing.T) {
	ctx := context.Background()
	st := newCountingStore(memstore.New())
	resolver := NewResolver(NewRepository(st, memstore.NewBlobs("b")), 2)

	require.NoError(t, resolver.Resolve(ctx, []Ref{{UID: "ghost"}}))
	_, known, resolved := resolver.Lookup("ghost")
	assert.True(t, resolved)
	assert.False(t, known)
	// one probe per kind collection, then cached
	require.NoError(t, resolver.Resolve(ctx, []Ref{{UID: "ghost"}}))
	assert.Equal(t, len(Kinds), st.count("ghost"))

	st.fail["flaky"] = errors.New("unavailable")
	err := resolver.Resolve(ctx, []Ref{{UID: "flaky", Kind: KindRealtor}})
	require.Error(t, err)
	_, _, resolved = resolver.Lookup("flaky")
	assert.False(t, resolved)
}
