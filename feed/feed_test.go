package feed

import (
	"context"
	"testing"
	"time"

	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/profile"
	"github.com/klipach/contractmatch/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tickingClock() func() time.Time {
	t := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newFeed(t *testing.T, opts ...Option) (*Feed, *memstore.Store) {
	t.Helper()
	st := memstore.New(memstore.WithClock(tickingClock()))
	for uid, coll := range map[string]string{"r1": "realtors", "c1": "contractors"} {
		require.NoError(t, st.CreateWithID(context.Background(), coll, uid, map[string]any{
			"firstName": uid,
			"lastName":  "Test",
		}))
	}
	return New(st, profile.NewRepository(st, memstore.NewBlobs("b")), opts...), st
}

func TestCreateValidation(t *testing.T) {
	f, _ := newFeed(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  contract.CreatePostRequest
		err  error
	}{
		{"blank", contract.CreatePostRequest{Content: "  "}, ErrEmptyPost},
		{"bad type", contract.CreatePostRequest{Content: "hi", Type: "ad"}, ErrInvalidPostType},
		{"default type", contract.CreatePostRequest{Content: "hi"}, nil},
		{"showcase", contract.CreatePostRequest{Content: "deck", Type: TypeProjectShowcase, Images: []string{" https://x/1.png ", ""}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.Create(ctx, "r1", tt.req)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, p.ID)
			assert.Equal(t, "r1", p.UserID)
			assert.NotEmpty(t, p.Type)
			assert.False(t, p.CreatedAt.IsZero())
			if tt.req.Type == TypeProjectShowcase {
				assert.Equal(t, []string{"https://x/1.png"}, p.Images)
			}
		})
	}
}

func TestListNewestFirst(t *testing.T) {
	f, st := newFeed(t, WithPageSize(2))
	ctx := context.Background()

	for _, content := range []string{"old", "**mid**", "new"} {
		_, err := f.Create(ctx, "c1", contract.CreatePostRequest{Content: content})
		require.NoError(t, err)
	}
	_, err := st.Create(ctx, "posts", map[string]any{"userId": "gone", "content": "orphan", "createdAt": time.Now()})
	require.NoError(t, err)

	views, err := f.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, views, 1, "orphan post takes a page slot but is omitted")
	assert.Equal(t, "new", views[0].Content)
	assert.Equal(t, "c1 Test", views[0].Author.DisplayName())
	assert.Equal(t, "contractor", views[0].Author.Role)

	f.pageSize = 10
	views, err = f.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Contains(t, views[1].ContentHTML, "<strong>mid</strong>")
}

func TestLikesCommentsAndDelete(t *testing.T) {
	f, _ := newFeed(t, WithClock(tickingClock()))
	ctx := context.Background()
	p, err := f.Create(ctx, "r1", contract.CreatePostRequest{Content: "listing"})
	require.NoError(t, err)

	liked, err := f.ToggleLike(ctx, p.ID, "c1")
	require.NoError(t, err)
	assert.True(t, liked)

	views, err := f.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].LikeCount)
	assert.True(t, views[0].LikedByMe)

	liked, err = f.ToggleLike(ctx, p.ID, "c1")
	require.NoError(t, err)
	assert.False(t, liked)

	_, err = f.Comment(ctx, p.ID, "c1", " <b></b> ")
	assert.ErrorIs(t, err, ErrEmptyComment)
	first, err := f.Comment(ctx, p.ID, "c1", "Great [photos](https://x)")
	require.NoError(t, err)
	_, err = f.Comment(ctx, p.ID, "r1", "thanks")
	require.NoError(t, err)

	got, err := f.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Likes)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, first.ID, got.Comments[0].ID)
	assert.Equal(t, "Great photos", got.Comments[0].Content)
	assert.Equal(t, "thanks", got.Comments[1].Content)
	assert.True(t, got.Comments[1].CreatedAt.After(got.Comments[0].CreatedAt))

	assert.ErrorIs(t, f.Delete(ctx, p.ID, "c1"), ErrNotAuthor)
	require.NoError(t, f.Delete(ctx, p.ID, "r1"))
	_, err = f.Get(ctx, p.ID)
	assert.ErrorIs(t, err, ErrPostNotFound)
	_, err = f.ToggleLike(ctx, p.ID, "c1")
	assert.ErrorIs(t, err, ErrPostNotFound)
}
