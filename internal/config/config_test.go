package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProjectRoot != dir {
		t.Errorf("ProjectRoot = %q, want %q", cfg.ProjectRoot, dir)
	}
	if cfg.Transpile.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want default 5", cfg.Transpile.MaxRetries)
	}
	if got := cfg.Replace.EntrySymbols; len(got) != 1 || got[0] != "main" {
		t.Errorf("EntrySymbols = %v", got)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.ProjectRoot = dir
	cfg.Replace.Denylist = []string{"libc"}
	cfg.Transpile.MaxRetries = 3
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Transpile.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", loaded.Transpile.MaxRetries)
	}
	if len(loaded.Replace.Denylist) != 1 || loaded.Replace.Denylist[0] != "libc" {
		t.Errorf("Denylist = %v", loaded.Replace.Denylist)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"bad version", func(c *Config) { c.Version = 2 }, true},
		{"no source roots", func(c *Config) { c.SourceRoots = nil }, true},
		{"negative retries", func(c *Config) { c.Transpile.MaxRetries = -1 }, true},
		{"zero retries is unlimited", func(c *Config) { c.Transpile.MaxRetries = 0 }, false},
		{"zero batch size", func(c *Config) { c.Optimize.BatchSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEffectiveCrateDir(t *testing.T) {
	cfg := Default()
	cfg.ProjectRoot = filepath.Join(string(os.PathSeparator), "work", "myproj")
	if got := cfg.EffectiveCrateDir(); filepath.Base(got) != "myproj-rs" {
		t.Errorf("EffectiveCrateDir = %q, want .../myproj-rs", got)
	}

	cfg.CrateDir = "/elsewhere/crate"
	if got := cfg.EffectiveCrateDir(); got != "/elsewhere/crate" {
		t.Errorf("explicit CrateDir not honored: %q", got)
	}
}
