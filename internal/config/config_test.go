package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaultsWithSecret(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StoreDriver != "postgres" || cfg.EventBroker != "none" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.OTPTTL != 10*time.Minute {
		t.Fatalf("OTPTTL = %v", cfg.OTPTTL)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "cabshare.yaml")
	yml := "http_addr: \":9000\"\nstore_driver: mongo\njwt_secret: from-yaml\nrate_limit:\n  capacity: 5\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("EVENT_BROKER=amqp\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides a variable that is already present.
	t.Setenv("EVENT_BROKER", "")
	os.Unsetenv("EVENT_BROKER")
	t.Setenv("PORT", "7000")
	t.Setenv("OTP_TTL", "2m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr = %q, want env PORT to win", cfg.HTTPAddr)
	}
	if cfg.StoreDriver != "mongo" || cfg.JWTSecret != "from-yaml" || cfg.RateLimit.Capacity != 5 {
		t.Errorf("yaml layer not applied: %+v", cfg)
	}
	if cfg.EventBroker != "amqp" {
		t.Errorf("EventBroker = %q, want value from .env", cfg.EventBroker)
	}
	if cfg.OTPTTL != 2*time.Minute {
		t.Errorf("OTPTTL = %v", cfg.OTPTTL)
	}
}

func TestLoadAggregatesErrors(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("OTP_TTL", "soon")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"JWT_SECRET", "STORE_DRIVER", "OTP_TTL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
