package contractmatch

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/klipach/contractmatch/auth"
	"github.com/klipach/contractmatch/config"
	"github.com/klipach/contractmatch/feed"
	"github.com/klipach/contractmatch/log"
	"github.com/klipach/contractmatch/messaging"
	"github.com/klipach/contractmatch/profile"
	"github.com/klipach/contractmatch/store"
)

const (
	requestIDLogField = "requestID"
	traceHeader       = "X-Cloud-Trace-Context"

	defaultHeartbeat = 25 * time.Second
)

type Deps struct {
	Config   config.Config
	Store    store.DocumentStore
	Blobs    store.BlobStore
	Verifier auth.Verifier
}

type App struct {
	cfg           config.Config
	store         store.DocumentStore
	verifier      auth.Verifier
	validate      *validator.Validate
	profiles      *profile.Repository
	conversations *messaging.Conversations
	composer      *messaging.Composer
	feed          *feed.Feed
}

func NewApp(deps Deps) *App {
	var profileOpts []profile.Option
	if deps.Config.MaxPhotoBytes > 0 {
		profileOpts = append(profileOpts, profile.WithMaxPhotoBytes(deps.Config.MaxPhotoBytes))
	}
	profiles := profile.NewRepository(deps.Store, deps.Blobs, profileOpts...)
	conversations := messaging.NewConversations(deps.Store)
	if deps.Config.StreamHeartbeat <= 0 {
		deps.Config.StreamHeartbeat = defaultHeartbeat
	}

	return &App{
		cfg:           deps.Config,
		store:         deps.Store,
		verifier:      deps.Verifier,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		profiles:      profiles,
		conversations: conversations,
		composer:      messaging.NewComposer(deps.Store, conversations),
		feed: feed.New(deps.Store, profiles,
			feed.WithPageSize(deps.Config.FeedPageSize),
			feed.WithResolveConcurrency(deps.Config.ResolveConcurrency),
		),
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(a.verifier))

		r.Get("/messages/stream", a.stream)

		r.Post("/conversations", a.createConversation)
		r.Get("/conversations/{conversationID}/messages", a.listMessages)
		r.Post("/conversations/{conversationID}/messages", a.sendMessage)
		r.Post("/conversations/{conversationID}/read", a.markRead)

		r.Get("/profile", a.ownProfile)
		r.Patch("/profile", a.updateProfile)
		r.Post("/profile/photo", a.uploadPhoto)
		r.Get("/profiles/{uid}", a.publicProfile)

		r.Post("/connections/{uid}", a.connection(a.profiles.RequestConnection))
		r.Post("/connections/{uid}/accept", a.connection(a.profiles.AcceptConnection))
		r.Post("/connections/{uid}/decline", a.connection(a.profiles.DeclineConnection))
		r.Delete("/connections/{uid}", a.connection(a.profiles.RemoveConnection))

		r.Get("/posts", a.listPosts)
		r.Post("/posts", a.createPost)
		r.Post("/posts/{postID}/like", a.toggleLike)
		r.Post("/posts/{postID}/comments", a.comment)
		r.Delete("/posts/{postID}", a.deletePost)
	})
	return r
}

// requestLogger puts a request scoped logger into the context, linked to
// the Cloud Trace of the request when the platform sent one.
func (a *App) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if trace := r.Header.Get(traceHeader); trace != "" && a.cfg.ProjectID != "" {
			traceID, _, _ := strings.Cut(trace, "/")
			ctx = log.WithTraceID(ctx, fmt.Sprintf("projects/%s/traces/%s", a.cfg.ProjectID, traceID))
		}
		logger := log.LoggerFromContext(ctx).With(
			slog.String(requestIDLogField, middleware.GetReqID(ctx)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		logger.Debug("request received")
		next.ServeHTTP(w, r.WithContext(log.WithLogger(ctx, logger)))
	})
}
