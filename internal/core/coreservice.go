package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/palettebox/internal/backend/blobstore"
	"github.com/jo-hoe/palettebox/internal/backend/database"
	"github.com/jo-hoe/palettebox/internal/backend/session"
	"github.com/jo-hoe/palettebox/internal/backend/sweeper"
	"github.com/jo-hoe/palettebox/internal/lifecycle"
)

// CoreService owns every long-lived component and closes them together.
type CoreService struct {
	config       *ServiceConfig
	database     database.DatabaseService
	engine       *lifecycle.Engine
	blobs        *blobstore.LocalStore
	uploader     *blobstore.Uploader
	sessionStore session.Store
	gate         *session.Gate
	sweeper      *sweeper.Sweeper
}

func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	databaseService, err := database.NewDatabase(ctx, config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)

	blobs, err := blobstore.NewLocalStore(config.BlobStore.Directory, config.BlobStore.PublicBaseURL)
	if err != nil {
		databaseService.Close()
		return nil, err
	}

	sessionStore, err := session.NewStore(ctx, config.Session.Store, config.Session.RedisAddr, config.Session.RedisPassword)
	if err != nil {
		databaseService.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	slog.Info("session store initialized", "type", config.Session.Store)

	limits := config.Limits()
	cleanup := config.Cleanup.IsEnabled()
	if !cleanup {
		slog.Warn("NewCoreService: blob cleanup is disabled, files of deleted characters will remain on disk")
	}

	return &CoreService{
		config:   config,
		database: databaseService,
		engine: lifecycle.NewEngine(databaseService,
			lifecycle.WithLimits(limits),
			lifecycle.WithBlobCleanup(cleanup)),
		blobs:        blobs,
		uploader:     blobstore.NewUploader(blobs, limits),
		sessionStore: sessionStore,
		gate:         session.NewGate(config.Moderator.Password, sessionStore, config.Moderator.SessionTTL),
		sweeper:      sweeper.New(databaseService, blobs, config.Cleanup.LockFile, config.Cleanup.BatchSize),
	}, nil
}

func (service *CoreService) Config() *ServiceConfig {
	return service.config
}

func (service *CoreService) Engine() *lifecycle.Engine {
	return service.engine
}

func (service *CoreService) Blobs() blobstore.BlobStore {
	return service.blobs
}

func (service *CoreService) Uploader() *blobstore.Uploader {
	return service.uploader
}

func (service *CoreService) Gate() *session.Gate {
	return service.gate
}

func (service *CoreService) Sweeper() *sweeper.Sweeper {
	return service.sweeper
}

// StartBackground schedules the blob sweeper when cleanup is enabled
func (service *CoreService) StartBackground() error {
	if !service.config.Cleanup.IsEnabled() {
		return nil
	}
	return service.sweeper.Start(service.config.Cleanup.Schedule)
}

func (service *CoreService) Close() error {
	service.sweeper.Stop()
	return errors.Join(service.sessionStore.Close(), service.database.Close())
}
