package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	intrnl "studyhub/internal"
	"studyhub/internal/presence"
	"studyhub/internal/storage"
	"studyhub/internal/storage/mongostore"
	"studyhub/internal/storage/usercache"
)

// RunClient launches the Bubble Tea presence dashboard.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	return intrnl.RunDashboard(cfg.ServerURL, cfg.JoinAs)
}

// AddUser inserts an account into the configured store so it can join and
// drops any cached copy of it. It returns the stored id.
func AddUser(ctx context.Context, cfg ServerConfig, user presence.User) (string, error) {
	id, err := createUser(ctx, cfg, user)
	if err != nil {
		return "", err
	}
	if cfg.Redis.Addr == "" {
		return id, nil
	}
	client := newRedisClient(cfg.Redis)
	defer client.Close()
	if err := usercache.New(client, nil, cfg.Redis.TTL, nil).Invalidate(ctx, id); err != nil {
		return id, fmt.Errorf("user %s stored, invalidate cache: %w", id, err)
	}
	return id, nil
}

func createUser(ctx context.Context, cfg ServerConfig, user presence.User) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if user.Name == "" {
		return "", errors.New("user name is required")
	}
	switch cfg.Store {
	case StoreMongo:
		store, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return "", fmt.Errorf("connect mongo: %w", err)
		}
		defer store.Close(context.Background())
		return store.CreateUser(ctx, user)
	default:
		if user.ID == "" {
			return "", errors.New("user id is required for the sqlite store")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return "", fmt.Errorf("create db dir: %w", err)
		}
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return "", fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return "", fmt.Errorf("migrate: %w", err)
		}
		if err := store.CreateUser(ctx, user); err != nil {
			return "", err
		}
		return user.ID, nil
	}
}
