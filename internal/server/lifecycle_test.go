package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackzampolin/swaggerfix/internal/home"
	"github.com/jackzampolin/swaggerfix/internal/server/endpoints"
	"github.com/jackzampolin/swaggerfix/internal/testutil"
)

func TestServer_FullLifecycle(t *testing.T) {
	cfg := testutil.NewServerConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := home.New(cfg.HomeDir)
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}

	srv, err := New(Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		Home:   h,
		Logger: cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)

	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	// Wait for server to be ready
	if err := testutil.WaitForServer(cfg.URL(), 30*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("ready_without_provider", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()

		// No provider is configured, so the server is up but degraded.
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
		}

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Store != "ok" {
			t.Errorf("health.Store = %q, want %q", health.Store, "ok")
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		status, err := testutil.GetStatus(cfg.URL())
		if err != nil {
			t.Fatalf("status check failed: %v", err)
		}

		if status.Server != "running" {
			t.Errorf("status.Server = %q, want %q", status.Server, "running")
		}
		if status.Store.Health != "healthy" {
			t.Errorf("status.Store.Health = %q, want %q", status.Store.Health, "healthy")
		}
		if status.Store.Path != h.DatabasePath() {
			t.Errorf("status.Store.Path = %q, want %q", status.Store.Path, h.DatabasePath())
		}
	})

	t.Run("store_works", func(t *testing.T) {
		st := srv.Store()
		if st == nil {
			t.Fatal("Store() returned nil")
		}

		if err := st.Ping(ctx); err != nil {
			t.Errorf("store ping failed: %v", err)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	t.Run("double_start_rejected", func(t *testing.T) {
		if err := srv.Start(ctx); err == nil {
			t.Error("second Start() succeeded, want error")
		}
	})

	// Shutdown server
	serverCancel()

	if err := testutil.WaitForShutdown(serverErr, 30*time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})

	t.Run("database_persisted", func(t *testing.T) {
		if _, err := os.Stat(h.DatabasePath()); err != nil {
			t.Errorf("database file missing after shutdown: %v", err)
		}
	})

	t.Run("port_released", func(t *testing.T) {
		client := &http.Client{Timeout: time.Second}
		if resp, err := client.Get(cfg.URL() + "/health"); err == nil {
			resp.Body.Close()
			t.Error("server still answering after shutdown")
		}
	})
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	h, err := home.New(cfg.HomeDir)
	if err != nil {
		t.Fatal(err)
	}

	first, err := New(Config{Host: cfg.Host, Port: cfg.Port, Home: h, Logger: cfg.Logger})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- first.Start(ctx) }()
	starter := testutil.StartServer{Cancel: cancel, Done: done}
	t.Cleanup(starter.Stop)

	if err := testutil.WaitForServer(cfg.URL(), 30*time.Second); err != nil {
		t.Fatalf("server did not start: %v", err)
	}

	otherHome, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	second, err := New(Config{Host: cfg.Host, Port: cfg.Port, Home: otherHome, Logger: cfg.Logger})
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("Start() on a busy port succeeded, want error")
	}
	if second.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}
