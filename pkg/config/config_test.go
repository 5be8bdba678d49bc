package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func setProtectedEnv(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	t.Setenv("VISTORIA_PROTECTED_ACTOR_ID", id.String())
	t.Setenv("VISTORIA_PROTECTED_EMAIL", "sistema@vistoria.example")
	t.Setenv("VISTORIA_PROTECTED_ORGANIZATION_ID", "1")
	t.Setenv("VISTORIA_POSTGRES_URL", "postgres://localhost/vistoria_test")
	return id
}

func TestLoadConfig_Defaults(t *testing.T) {
	id := setProtectedEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Expected 15s read timeout, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Protected.ActorID != id {
		t.Errorf("Expected protected actor ID %s, got %s", id, cfg.Protected.ActorID)
	}
	if cfg.Protected.Email != "sistema@vistoria.example" {
		t.Errorf("Unexpected protected email: %s", cfg.Protected.Email)
	}
	if cfg.Audit.QueueSize != 1024 {
		t.Errorf("Expected default audit queue size 1024, got %d", cfg.Audit.QueueSize)
	}
	if cfg.Redis.Enabled {
		t.Error("Redis should be disabled when no URL is set")
	}
}

func TestLoadConfig_MissingProtectedIdentity(t *testing.T) {
	t.Setenv("VISTORIA_POSTGRES_URL", "postgres://localhost/vistoria_test")
	t.Setenv("VISTORIA_PROTECTED_ACTOR_ID", "")
	t.Setenv("VISTORIA_PROTECTED_EMAIL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("Expected LoadConfig to fail without a protected identity")
	}
}

func TestLoadConfig_InvalidProtectedID(t *testing.T) {
	t.Setenv("VISTORIA_POSTGRES_URL", "postgres://localhost/vistoria_test")
	t.Setenv("VISTORIA_PROTECTED_ACTOR_ID", "not-a-uuid")
	t.Setenv("VISTORIA_PROTECTED_EMAIL", "sistema@vistoria.example")
	t.Setenv("VISTORIA_PROTECTED_ORGANIZATION_ID", "1")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("Expected LoadConfig to reject a malformed protected actor ID")
	}
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	setProtectedEnv(t)
	t.Setenv("VISTORIA_POSTGRES_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("Expected LoadConfig to fail without a postgres URL")
	}
}

func TestLoadConfig_EmailNormalized(t *testing.T) {
	setProtectedEnv(t)
	t.Setenv("VISTORIA_PROTECTED_EMAIL", "Sistema@Vistoria.Example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Protected.Email != "sistema@vistoria.example" {
		t.Errorf("Expected lowercased email, got %s", cfg.Protected.Email)
	}
}
