package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAndRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9000"
quiz:
  capacity: 4
  reveal_delay: 0s
  disconnect_grace: 5s
  default_time_budget: bogus
  score_base: 100
  score_max_bonus: 0
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Fatalf("expected port 9000, got %q", cfg.Server.Port)
	}

	rules := cfg.Quiz.Rules()
	if rules.Capacity != 4 {
		t.Fatalf("expected capacity 4, got %d", rules.Capacity)
	}
	if rules.MinPlayers != 2 {
		t.Fatalf("expected default min players, got %d", rules.MinPlayers)
	}
	if rules.RevealDelay != 0 {
		t.Fatalf("expected explicit zero reveal delay, got %v", rules.RevealDelay)
	}
	if rules.DisconnectGrace != 5*time.Second {
		t.Fatalf("expected 5s grace, got %v", rules.DisconnectGrace)
	}
	if rules.DefaultBudget != 20*time.Second {
		t.Fatalf("expected fallback budget for invalid duration, got %v", rules.DefaultBudget)
	}
	if rules.Scoring.Base != 100 || rules.Scoring.MaxBonus != 0 {
		t.Fatalf("unexpected scoring params %+v", rules.Scoring)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
}
