package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quiz-orchestrator/internal/app"
	"quiz-orchestrator/internal/scoring"
)

type Config struct {
	Server struct {
		Port        string `yaml:"port"`
		MetricsPort string `yaml:"metrics_port"`
	} `yaml:"server"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz QuizConfig `yaml:"quiz"`
}

// QuizConfig holds the gameplay rules; zero values fall back to app.DefaultRules.
type QuizConfig struct {
	TTL               string `yaml:"ttl"`
	Capacity          int    `yaml:"capacity"`
	MinPlayers        int    `yaml:"min_players"`
	MinQuestions      int    `yaml:"min_questions"`
	MaxQuestions      int    `yaml:"max_questions"`
	DefaultTimeBudget string `yaml:"default_time_budget"`
	RevealDelay       string `yaml:"reveal_delay"`
	DisconnectGrace   string `yaml:"disconnect_grace"`
	EmptyRoomGrace    string `yaml:"empty_room_grace"`
	FinishedGrace     string `yaml:"finished_grace"`
	SweepInterval     string `yaml:"sweep_interval"`
	ScoreBase         *int   `yaml:"score_base"`
	ScoreMaxBonus     *int   `yaml:"score_max_bonus"`
	SubscriberBuffer  int    `yaml:"subscriber_buffer"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Rules converts the quiz section into room rules.
func (q QuizConfig) Rules() app.Rules {
	rules := app.DefaultRules()
	if q.Capacity > 0 {
		rules.Capacity = q.Capacity
	}
	if q.MinPlayers > 0 {
		rules.MinPlayers = q.MinPlayers
	}
	if q.MinQuestions > 0 {
		rules.MinQuestions = q.MinQuestions
	}
	if q.MaxQuestions > 0 {
		rules.MaxQuestions = q.MaxQuestions
	}
	rules.DefaultBudget = TTLDuration(q.DefaultTimeBudget, rules.DefaultBudget)
	rules.RevealDelay = TTLDuration(q.RevealDelay, rules.RevealDelay)
	rules.DisconnectGrace = TTLDuration(q.DisconnectGrace, rules.DisconnectGrace)
	rules.EmptyRoomGrace = TTLDuration(q.EmptyRoomGrace, rules.EmptyRoomGrace)
	rules.FinishedGrace = TTLDuration(q.FinishedGrace, rules.FinishedGrace)

	params := scoring.DefaultParams
	if q.ScoreBase != nil {
		params.Base = *q.ScoreBase
	}
	if q.ScoreMaxBonus != nil {
		params.MaxBonus = *q.ScoreMaxBonus
	}
	rules.Scoring = params
	return rules
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
