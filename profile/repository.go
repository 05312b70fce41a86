package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/filter"
	"github.com/klipach/contractmatch/store"
	"github.com/samber/lo"
)

const (
	photoDir             = "profilePhotos/"
	DefaultMaxPhotoBytes = 5 << 20
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrNotImage        = errors.New("uploaded file is not an image")
	ErrPhotoTooLarge   = errors.New("uploaded photo is too large")
)

// Ref names a participant. Kind may be KindUnknown, in which case lookups
// probe every profile collection.
type Ref struct {
	UID  string
	Kind Kind
}

type Option func(*Repository)

func WithMaxPhotoBytes(n int64) Option {
	return func(r *Repository) { r.maxPhotoBytes = n }
}

type Repository struct {
	store         store.DocumentStore
	blobs         store.BlobStore
	validate      *validator.Validate
	maxPhotoBytes int64
}

func NewRepository(st store.DocumentStore, blobs store.BlobStore, opts ...Option) *Repository {
	r := &Repository{
		store:         st,
		blobs:         blobs,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		maxPhotoBytes: DefaultMaxPhotoBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Get(ctx context.Context, kind Kind, uid string) (contract.Profile, error) {
	coll, err := kind.Collection()
	if err != nil {
		return contract.Profile{}, err
	}
	doc, err := r.store.Get(ctx, coll, uid)
	if errors.Is(err, store.ErrNotFound) {
		return contract.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return contract.Profile{}, fmt.Errorf("get %s %s: %w", kind, uid, err)
	}
	var p contract.Profile
	if err := doc.DataTo(&p); err != nil {
		return contract.Profile{}, fmt.Errorf("decode %s %s: %w", kind, uid, err)
	}
	p.ID = doc.ID()
	if p.Role == "" {
		p.Role = kind.String()
	}
	if p.About != "" {
		p.AboutHTML = filter.Render(p.About)
	}
	return p, nil
}

// Locate finds uid in whichever profile collection holds it.
func (r *Repository) Locate(ctx context.Context, uid string) (contract.Profile, Kind, error) {
	for _, k := range Kinds {
		p, err := r.Get(ctx, k, uid)
		if errors.Is(err, ErrProfileNotFound) {
			continue
		}
		if err != nil {
			return contract.Profile{}, KindUnknown, err
		}
		return p, k, nil
	}
	return contract.Profile{}, KindUnknown, ErrProfileNotFound
}

// Find uses ref.Kind when it is known and falls back to Locate otherwise.
func (r *Repository) Find(ctx context.Context, ref Ref) (contract.Profile, Kind, error) {
	if ref.Kind.Valid() {
		p, err := r.Get(ctx, ref.Kind, ref.UID)
		return p, ref.Kind, err
	}
	return r.Locate(ctx, ref.UID)
}

func (r *Repository) Update(ctx context.Context, ref Ref, req contract.ProfileUpdateRequest) (contract.Profile, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Specialties = NormalizeSpecialties(req.Specialties)
	if err := r.validate.Struct(req); err != nil {
		return contract.Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	kind, err := r.kindOf(ctx, ref)
	if err != nil {
		return contract.Profile{}, err
	}
	coll, _ := kind.Collection()
	err = r.store.Update(ctx, coll, ref.UID,
		store.Update{Path: "firstName", Value: req.FirstName},
		store.Update{Path: "lastName", Value: req.LastName},
		store.Update{Path: "company", Value: strings.TrimSpace(req.Company)},
		store.Update{Path: "phone", Value: strings.TrimSpace(req.Phone)},
		store.Update{Path: "location", Value: strings.TrimSpace(req.Location)},
		store.Update{Path: "about", Value: req.About},
		store.Update{Path: "specialties", Value: lo.ToAnySlice(req.Specialties)},
	)
	if errors.Is(err, store.ErrNotFound) {
		return contract.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return contract.Profile{}, fmt.Errorf("update %s %s: %w", kind, ref.UID, err)
	}
	return r.Get(ctx, kind, ref.UID)
}

// UploadPhoto stores data as the participant's avatar and points photoURL
// at it.
func (r *Repository) UploadPhoto(ctx context.Context, ref Ref, data []byte) (string, error) {
	if int64(len(data)) > r.maxPhotoBytes {
		return "", ErrPhotoTooLarge
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", fmt.Errorf("%w: %s", ErrNotImage, mime.String())
	}

	kind, err := r.kindOf(ctx, ref)
	if err != nil {
		return "", err
	}

	path := photoDir + ref.UID
	if err := r.blobs.Upload(ctx, path, mime.String(), data); err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	photoURL := r.blobs.PublicURL(path)

	coll, _ := kind.Collection()
	if err := r.store.Update(ctx, coll, ref.UID, store.Update{Path: "photoURL", Value: photoURL}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrProfileNotFound
		}
		return "", fmt.Errorf("update photoURL: %w", err)
	}
	return photoURL, nil
}

func (r *Repository) kindOf(ctx context.Context, ref Ref) (Kind, error) {
	if ref.Kind.Valid() {
		return ref.Kind, nil
	}
	_, kind, err := r.Locate(ctx, ref.UID)
	return kind, err
}

// NormalizeSpecialties trims tags, drops empty ones and removes duplicates
// while keeping the first occurrence order.
func NormalizeSpecialties(in []string) []string {
	trimmed := lo.FilterMap(in, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	return lo.UniqBy(trimmed, strings.ToLower)
}
