// Package feed keeps the professional news feed: posts with markdown
// content, likes and comments.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/filter"
	"github.com/klipach/contractmatch/log"
	"github.com/klipach/contractmatch/profile"
	"github.com/klipach/contractmatch/store"
	"github.com/samber/lo"
)

const (
	postsCollection = "posts"

	TypeGeneral         = "general"
	TypeProjectShowcase = "project-showcase"
	TypeCertification   = "certification"

	defaultPageSize = 50
)

var postTypes = []string{TypeGeneral, TypeProjectShowcase, TypeCertification}

var (
	ErrEmptyPost       = errors.New("post content is empty")
	ErrEmptyComment    = errors.New("comment is empty")
	ErrInvalidPostType = errors.New("invalid post type")
	ErrPostNotFound    = errors.New("post not found")
	ErrNotAuthor       = errors.New("only the author can delete a post")
)

type Option func(*Feed)

func WithPageSize(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

func WithResolveConcurrency(n int) Option {
	return func(f *Feed) { f.concurrency = n }
}

// WithClock replaces time.Now for comment timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

type Feed struct {
	store       store.DocumentStore
	profiles    *profile.Repository
	pageSize    int
	concurrency int
	now         func() time.Time
}

func New(st store.DocumentStore, profiles *profile.Repository, opts ...Option) *Feed {
	f := &Feed{
		store:    st,
		profiles: profiles,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// List returns the newest page of posts as seen by viewerUID. Posts whose
// author no longer has a profile are left out.
func (f *Feed) List(ctx context.Context, viewerUID string) ([]contract.PostView, error) {
	docs, err := f.store.List(ctx, store.Collection(postsCollection).OrderBy("createdAt", store.Desc).WithLimit(f.pageSize))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	posts := make([]contract.Post, 0, len(docs))
	for _, doc := range docs {
		p, err := decodePost(doc)
		if err != nil {
			log.LoggerFromContext(ctx).Warn("skipping undecodable post", slog.String(log.ErrorMsgLogField, err.Error()))
			continue
		}
		posts = append(posts, p)
	}

	authors := profile.NewResolver(f.profiles, f.concurrency)
	refs := lo.Map(posts, func(p contract.Post, _ int) profile.Ref { return profile.Ref{UID: p.UserID} })
	if err := authors.Resolve(ctx, refs); err != nil {
		log.LoggerFromContext(ctx).Warn("some post authors could not be resolved", slog.String(log.ErrorMsgLogField, err.Error()))
	}

	return lo.FilterMap(posts, func(p contract.Post, _ int) (contract.PostView, bool) {
		author, known, _ := authors.Lookup(p.UserID)
		if !known {
			return contract.PostView{}, false
		}
		return view(p, author, viewerUID), true
	}), nil
}

func view(p contract.Post, author contract.Profile, viewerUID string) contract.PostView {
	return contract.PostView{
		Post:        p,
		ContentHTML: filter.Render(p.Content),
		Author:      author,
		LikeCount:   len(p.Likes),
		LikedByMe:   lo.Contains(p.Likes, viewerUID),
	}
}

func (f *Feed) Get(ctx context.Context, id string) (contract.Post, error) {
	doc, err := f.store.Get(ctx, postsCollection, id)
	if errors.Is(err, store.ErrNotFound) {
		return contract.Post{}, ErrPostNotFound
	}
	if err != nil {
		return contract.Post{}, fmt.Errorf("get post %s: %w", id, err)
	}
	return decodePost(doc)
}

func (f *Feed) Create(ctx context.Context, authorUID string, req contract.CreatePostRequest) (contract.Post, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return contract.Post{}, ErrEmptyPost
	}
	postType := lo.Ternary(req.Type == "", TypeGeneral, req.Type)
	if !lo.Contains(postTypes, postType) {
		return contract.Post{}, fmt.Errorf("%w: %q", ErrInvalidPostType, req.Type)
	}
	images := lo.Compact(lo.Map(req.Images, func(s string, _ int) string { return strings.TrimSpace(s) }))

	id, err := f.store.Create(ctx, postsCollection, map[string]any{
		"userId":    authorUID,
		"content":   content,
		"images":    lo.ToAnySlice(images),
		"likes":     []any{},
		"comments":  []any{},
		"type":      postType,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		return contract.Post{}, fmt.Errorf("create post: %w", err)
	}
	return f.Get(ctx, id)
}

// ToggleLike likes the post for uid, or unlikes it when uid already does.
// It reports whether uid likes the post afterwards.
func (f *Feed) ToggleLike(ctx context.Context, postID, uid string) (bool, error) {
	p, err := f.Get(ctx, postID)
	if err != nil {
		return false, err
	}
	liked := lo.Contains(p.Likes, uid)
	var value any = store.ArrayUnion{uid}
	if liked {
		value = store.ArrayRemove{uid}
	}
	if err := f.store.Update(ctx, postsCollection, postID, store.Update{Path: "likes", Value: value}); err != nil {
		return liked, fmt.Errorf("toggle like on %s: %w", postID, err)
	}
	return !liked, nil
}

func (f *Feed) Comment(ctx context.Context, postID, uid, text string) (contract.Comment, error) {
	text = filter.Plain(text)
	if text == "" {
		return contract.Comment{}, ErrEmptyComment
	}
	if _, err := f.Get(ctx, postID); err != nil {
		return contract.Comment{}, err
	}
	c := contract.Comment{
		ID:        uuid.NewString(),
		UserID:    uid,
		Content:   text,
		CreatedAt: f.now().UTC(),
	}
	err := f.store.Update(ctx, postsCollection, postID, store.Update{Path: "comments", Value: store.ArrayUnion{map[string]any{
		"id":        c.ID,
		"userId":    c.UserID,
		"content":   c.Content,
		"createdAt": c.CreatedAt,
	}}})
	if err != nil {
		return contract.Comment{}, fmt.Errorf("comment on %s: %w", postID, err)
	}
	return c, nil
}

func (f *Feed) Delete(ctx context.Context, postID, uid string) error {
	p, err := f.Get(ctx, postID)
	if err != nil {
		return err
	}
	if p.UserID != uid {
		return ErrNotAuthor
	}
	if err := f.store.Delete(ctx, postsCollection, postID); err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	return nil
}

func decodePost(doc store.Document) (contract.Post, error) {
	var p contract.Post
	if err := doc.DataTo(&p); err != nil {
		return contract.Post{}, fmt.Errorf("decode post %s: %w", doc.ID(), err)
	}
	p.ID = doc.ID()
	return p, nil
}
