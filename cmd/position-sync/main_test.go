package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    cliConfig
		wantErr bool
	}{
		{
			name: "defaults",
			args: nil,
			want: cliConfig{logFormat: "text"},
		},
		{
			name: "all flags",
			args: []string{"-config", "cg.yaml", "-account", "0xabc", "-log-format", "json", "-once"},
			want: cliConfig{configPath: "cg.yaml", account: "0xabc", logFormat: "json", once: true},
		},
		{
			name:    "bad log format",
			args:    []string{"-log-format", "xml"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"-nope"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHAINGUARD_CONFIG", "")
			got, err := parseFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestRun_RequiresAccount(t *testing.T) {
	t.Setenv("CHAINGUARD_CONFIG", "")
	t.Setenv("ACCOUNT_ADDRESS", "")
	t.Setenv("RPC_URL", "http://127.0.0.1:1")

	err := run(context.Background(), nil, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "account not provided") {
		t.Fatalf("expected missing account error, got %v", err)
	}
}

func TestRun_RequiresRPCURL(t *testing.T) {
	t.Setenv("CHAINGUARD_CONFIG", "")
	t.Setenv("RPC_URL", "")

	err := run(context.Background(), []string{"-account", "0xA11CE00000000000000000000000000000000001"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "RPC URL not provided") {
		t.Fatalf("expected missing RPC URL error, got %v", err)
	}
}

func TestReadRetry(t *testing.T) {
	cfg := readRetry(5)
	if cfg.MaxRetries != 5 || !cfg.Jitter {
		t.Errorf("expected 5 jittered retries, got %+v", cfg)
	}
}
