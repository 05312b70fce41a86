package contractmatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"cloud.google.com/go/logging"
	firebase "firebase.google.com/go/v4"
	"github.com/klipach/contractmatch/auth"
	"github.com/klipach/contractmatch/config"
	"github.com/klipach/contractmatch/log"
	"github.com/klipach/contractmatch/store"
	"github.com/klipach/contractmatch/store/memstore"
)

const logName = "contractmatch"

func setup(ctx context.Context) (http.Handler, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.SetDefault(logger)

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID, StorageBucket: cfg.StorageBucket})
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	verifier, err := auth.NewVerifier(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}

	deps := Deps{Config: cfg, Verifier: verifier}
	switch cfg.Backend {
	case config.BackendMemory:
		deps.Store = memstore.New()
		deps.Blobs = memstore.NewBlobs(cfg.StorageBucket)
		logger.Warn("using in-memory backend, data is lost on restart")
	default:
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firestore: %w", err)
		}
		storageClient, err := app.Storage(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firebase storage: %w", err)
		}
		bucket, err := storageClient.DefaultBucket()
		if err != nil {
			return nil, fmt.Errorf("open storage bucket: %w", err)
		}
		deps.Store = store.NewFirestore(client)
		deps.Blobs = store.NewBucket(bucket, cfg.StorageBucket)
	}

	logger.Info("api ready",
		slog.String("backend", cfg.Backend),
		slog.String("projectID", cfg.ProjectID),
	)
	return NewApp(deps).Router(), nil
}

func newLogger(ctx context.Context, cfg config.Config) (*slog.Logger, error) {
	level := log.ParseLevel(cfg.LogLevel)
	if cfg.LogTarget != config.LogTargetCloud {
		return slog.New(log.NewCloudLoggingHandler(os.Stdout, level)), nil
	}
	client, err := logging.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init cloud logging: %w", err)
	}
	return slog.New(log.NewCloudClientHandler(client.Logger(logName), level)), nil
}
