package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestConfig(t *testing.T) *ServiceConfig {
	t.Helper()
	dir := t.TempDir()
	config := &ServiceConfig{
		Database:  Database{Type: "sqlite", ConnectionString: filepath.Join(dir, "test.db")},
		BlobStore: BlobStore{Directory: filepath.Join(dir, "uploads")},
		Moderator: Moderator{Password: "secret"},
		Cleanup:   Cleanup{LockFile: filepath.Join(dir, "sweep.lock")},
	}
	if err := validateConfig(config); err != nil {
		t.Fatalf("validateConfig failed: %v", err)
	}
	return config
}

func TestNewCoreService_WiresComponents(t *testing.T) {
	ctx := context.Background()
	service, err := NewCoreService(ctx, newTestConfig(t))
	if err != nil {
		t.Fatalf("NewCoreService failed: %v", err)
	}

	if _, err := service.Gate().Login(ctx, "secret"); err != nil {
		t.Errorf("Expected login to work with configured password: %v", err)
	}
	if service.Engine().Limits().MaxImagesPerCharacter != 5 {
		t.Errorf("Expected engine to use configured limits")
	}
	if _, err := service.Sweeper().Sweep(ctx); err != nil {
		t.Errorf("Sweep on empty queue failed: %v", err)
	}

	if err := service.StartBackground(); err != nil {
		t.Fatalf("StartBackground failed: %v", err)
	}
	if err := service.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestNewCoreService_RedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	config := newTestConfig(t)
	config.Session = Session{Store: "redis", RedisAddr: mr.Addr()}

	service, err := NewCoreService(context.Background(), config)
	if err != nil {
		t.Fatalf("NewCoreService failed: %v", err)
	}
	defer service.Close()

	token, err := service.Gate().Login(context.Background(), "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !mr.Exists("palettebox:session:" + token) {
		t.Errorf("Expected session to be stored in redis")
	}
}

func TestNewCoreService_UnreachableRedis(t *testing.T) {
	config := newTestConfig(t)
	config.Session = Session{Store: "redis", RedisAddr: "127.0.0.1:1"}

	if _, err := NewCoreService(context.Background(), config); err == nil {
		t.Errorf("Expected error when redis is unreachable")
	}
}
