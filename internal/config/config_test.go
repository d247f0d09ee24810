package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("expected default config to validate, got: %v", errs)
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	defaults := DefaultConfig()
	if cfg.Server.Host != defaults.Server.Host {
		t.Fatalf("expected default host, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != defaults.Server.Port {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Gas.DefaultLimit != defaults.Gas.DefaultLimit {
		t.Fatalf("expected default gas limit, got %d", cfg.Gas.DefaultLimit)
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "127.0.0.1", Port: 9000}}
	cfg.ApplyDefaults()

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Fatalf("expected explicit server values to survive ApplyDefaults, got %+v", cfg.Server)
	}
}

func TestValidateAccumulatesEveryError(t *testing.T) {
	cfg := &Config{}
	errs := cfg.Validate()
	if len(errs) < 4 {
		t.Fatalf("expected Validate to accumulate multiple errors for a zero-value config, got %d: %v", len(errs), errs)
	}
}

func TestWithBuildersReturnIndependentCopies(t *testing.T) {
	base := DefaultConfig()
	withAddr := base.WithServerAddr("10.0.0.1", 9999)

	if base.Server.Host == withAddr.Server.Host {
		t.Fatalf("expected WithServerAddr to leave the receiver unmodified")
	}
	if withAddr.Server.Host != "10.0.0.1" || withAddr.Server.Port != 9999 {
		t.Fatalf("expected the copy to carry the new address, got %+v", withAddr.Server)
	}

	withLimit := base.WithGasLimit(42)
	if base.Gas.DefaultLimit == 42 {
		t.Fatalf("expected WithGasLimit to leave the receiver unmodified")
	}
	if withLimit.Gas.DefaultLimit != 42 {
		t.Fatalf("expected the copy to carry the new gas limit")
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "server:\n  host: 192.168.1.1\n  port: 9090\nchain:\n  id: testnet\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write fixture config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "192.168.1.1" || cfg.Server.Port != 9090 {
		t.Fatalf("expected YAML values to be loaded, got %+v", cfg.Server)
	}
	if cfg.Chain.ID != "testnet" {
		t.Fatalf("expected chain.id testnet, got %q", cfg.Chain.ID)
	}
	// Unset fields still get defaults applied.
	if cfg.IPFS.Gateway == "" {
		t.Fatalf("expected ipfs.gateway to be defaulted")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load should tolerate a missing file, got: %v", err)
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Fatalf("expected default port for missing file, got %d", cfg.Server.Port)
	}
}

func TestLoadEnvOverridesTakePrecedenceOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  host: fromyaml\n  port: 1111\n"), 0o644); err != nil {
		t.Fatalf("write fixture config: %v", err)
	}

	t.Setenv("RUNTIME_SERVER_HOST", "fromenv")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "fromenv" {
		t.Fatalf("expected env override to win, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 1111 {
		t.Fatalf("expected non-overridden YAML value to survive, got %d", cfg.Server.Port)
	}
}
