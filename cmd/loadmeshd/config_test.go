package main

import (
	"os"
	"strings"
	"testing"
)

func TestLoadConfig_ConcurrencyValidation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		envVars     map[string]string
		expectError bool
		errorSubstr string
	}{
		{
			name:        "valid concurrency from flag",
			args:        []string{"-concurrency", "8"},
			expectError: false,
		},
		{
			name:        "zero concurrency from flag",
			args:        []string{"-concurrency", "0"},
			expectError: true,
			errorSubstr: "concurrency must be positive",
		},
		{
			name:        "negative concurrency from flag",
			args:        []string{"-concurrency", "-5"},
			expectError: true,
			errorSubstr: "concurrency must be positive",
		},
		{
			name:        "valid concurrency from env",
			envVars:     map[string]string{"LOADMESH_CONCURRENCY": "16"},
			expectError: false,
		},
		{
			name:        "invalid concurrency format from env",
			envVars:     map[string]string{"LOADMESH_CONCURRENCY": "lots"},
			expectError: true,
			errorSubstr: "invalid LOADMESH_CONCURRENCY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			cfg, err := LoadConfig(tt.args)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errorSubstr)
				} else if !strings.Contains(err.Error(), tt.errorSubstr) {
					t.Errorf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				} else if cfg.Concurrency <= 0 {
					t.Errorf("expected positive concurrency, got %d", cfg.Concurrency)
				}
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != defaultAddr {
		t.Errorf("addr = %q, want %q", cfg.Addr, defaultAddr)
	}
	if cfg.RedisAddr != defaultRedisAddr {
		t.Errorf("redis addr = %q, want %q", cfg.RedisAddr, defaultRedisAddr)
	}
	if cfg.Generation != defaultGeneration {
		t.Errorf("generation = %q, want %q", cfg.Generation, defaultGeneration)
	}
	if cfg.Concurrency != defaultConcurrency {
		t.Errorf("concurrency = %d, want %d", cfg.Concurrency, defaultConcurrency)
	}
}

func TestLoadConfig_AddrFromPortEnv(t *testing.T) {
	os.Setenv("LOADMESH_PORT", "9999")
	defer os.Unsetenv("LOADMESH_PORT")

	cfg, err := LoadConfig([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9999" {
		t.Errorf("addr = %q, want 127.0.0.1:9999", cfg.Addr)
	}
}

func TestLoadConfig_RejectsEmptyGeneration(t *testing.T) {
	_, err := LoadConfig([]string{"-generation", "  "})
	if err == nil {
		t.Fatal("expected error for blank generation")
	}
}
