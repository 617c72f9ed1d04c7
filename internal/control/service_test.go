package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/apiclient/internal/core/config"
)

func TestService_StartStop(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Transport.BaseURL = upstream.URL
	cfg.Cache.ResourcePath = "/items"
	cfg.Warmer.Enabled = true
	cfg.Warmer.Keys = []string{"a"}
	cfg.Warmer.Interval = time.Hour

	svc, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The warmer fetches on start; wait for the key to land in the cache.
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := svc.Client().Fetch(ctx, "a", "cache_only"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("warmer did not populate the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestService_InvalidWarmerPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Warmer.Enabled = true
	cfg.Warmer.Keys = []string{"a"}
	cfg.Warmer.Policy = "eventually"

	svc, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Start(context.Background()); err == nil {
		t.Error("expected Start to reject the warmer policy")
	}
	_ = svc.Stop(context.Background())
}
