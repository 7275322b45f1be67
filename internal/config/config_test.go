package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.WebSocket.PongWait != 60*time.Second {
		t.Errorf("WebSocket.PongWait = %v, want 60s", cfg.WebSocket.PongWait)
	}
	if cfg.WebSocket.SendBufferSize != 256 {
		t.Errorf("WebSocket.SendBufferSize = %d, want 256", cfg.WebSocket.SendBufferSize)
	}
	if cfg.Store.Driver != "sql" {
		t.Errorf("Store.Driver = %q, want sql", cfg.Store.Driver)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Chat.MaxContentLength != 2000 {
		t.Errorf("Chat.MaxContentLength = %d, want 2000", cfg.Chat.MaxContentLength)
	}
	if cfg.Auth.Enabled {
		t.Error("Auth.Enabled = true, want false")
	}
	if cfg.Auth.TrustedHeader != "X-User-ID" {
		t.Errorf("Auth.TrustedHeader = %q, want X-User-ID", cfg.Auth.TrustedHeader)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CASSANDRA_HOSTS", "cass-1,cass-2")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if want := []string{"cass-1", "cass-2"}; !reflect.DeepEqual(cfg.Cassandra.Hosts, want) {
		t.Errorf("Cassandra.Hosts = %v, want %v", cfg.Cassandra.Hosts, want)
	}
	if !cfg.Auth.Enabled || cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Auth = %+v, want enabled with secret", cfg.Auth)
	}
}
