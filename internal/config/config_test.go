package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FITSFLOW_API_ADDR", "")
	t.Setenv("RENDER_DPI", "")

	cfg := Load()
	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.API.Addr)
	}
	if cfg.Convert.RenderSizeInches != 8 || cfg.Convert.RenderDPI != 300 {
		t.Fatalf("unexpected render defaults %+v", cfg.Convert)
	}
	if !cfg.Convert.ContinueOnRenderFailure {
		t.Fatal("expected render failures to be kept by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RENDER_SIZE_INCHES", "2.5")
	t.Setenv("RENDER_DPI", "100")
	t.Setenv("CONTINUE_ON_RENDER_FAILURE", "false")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("CONVERT_WORKERS", "not-a-number")

	cfg := Load()
	if cfg.Convert.RenderSizeInches != 2.5 || cfg.Convert.RenderDPI != 100 {
		t.Fatalf("unexpected render config %+v", cfg.Convert)
	}
	if cfg.Convert.ContinueOnRenderFailure {
		t.Fatal("expected override to disable render-failure continuation")
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Convert.Workers < 1 {
		t.Fatalf("expected fallback worker count, got %d", cfg.Convert.Workers)
	}
}
