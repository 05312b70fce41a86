package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/klipach/contractmatch/contract"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const defaultResolveConcurrency = 8

type cached struct {
	profile contract.Profile
	kind    Kind
	known   bool
}

// Resolver resolves participant profiles and caches them for the lifetime
// of a session. An id is fetched at most once until Invalidate; ids that
// no longer exist are cached as unknown.
type Resolver struct {
	repo  *Repository
	limit int
	group singleflight.Group

	mu    sync.RWMutex
	gen   uint64
	cache map[string]cached
}

func NewResolver(repo *Repository, concurrency int) *Resolver {
	if concurrency < 1 {
		concurrency = defaultResolveConcurrency
	}
	return &Resolver{repo: repo, limit: concurrency, cache: make(map[string]cached)}
}

// Resolve fetches every uncached ref in one batch. Store failures are
// returned joined; the failed ids stay uncached and are retried by the
// next call.
func (r *Resolver) Resolve(ctx context.Context, refs []Ref) error {
	missing := lo.Filter(lo.UniqBy(refs, func(ref Ref) string { return ref.UID }), func(ref Ref, _ int) bool {
		_, _, resolved := r.Lookup(ref.UID)
		return ref.UID != "" && !resolved
	})
	if len(missing) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(r.limit)
	for _, ref := range missing {
		g.Go(func() error {
			if err := r.fetch(ctx, ref); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("resolve %s: %w", ref.UID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Resolver) fetch(ctx context.Context, ref Ref) error {
	r.mu.RLock()
	gen := r.gen
	r.mu.RUnlock()

	_, err, _ := r.group.Do(fmt.Sprintf("%d/%s", gen, ref.UID), func() (any, error) {
		p, kind, err := r.repo.Find(ctx, ref)
		switch {
		case errors.Is(err, ErrProfileNotFound):
			r.store(gen, ref.UID, cached{})
			return nil, nil
		case err != nil:
			return nil, err
		}
		r.store(gen, ref.UID, cached{profile: p, kind: kind, known: true})
		return nil, nil
	})
	return err
}

func (r *Resolver) store(gen uint64, uid string, c cached) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	r.cache[uid] = c
}

// Lookup reports the cached profile of uid. resolved is false while uid
// has not been fetched; known is false for ids that do not exist.
func (r *Resolver) Lookup(uid string) (p contract.Profile, known, resolved bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cache[uid]
	return c.profile, c.known, ok
}

// KindOf reports the kind of a resolved, existing participant.
func (r *Resolver) KindOf(uid string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cache[uid]
	return c.kind, ok && c.known
}

// Invalidate drops the cache, e.g. on sign-out. Fetches in flight do not
// repopulate it.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.cache = make(map[string]cached)
}
