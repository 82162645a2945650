package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"quiz-orchestrator/internal/config"
	"quiz-orchestrator/internal/domain"
	"quiz-orchestrator/internal/infra/postgres"
)

type deckFile struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Questions []struct {
		ID         string   `yaml:"id"`
		Prompt     string   `yaml:"prompt"`
		Options    []string `yaml:"options"`
		Answer     string   `yaml:"answer"`
		TimeBudget int      `yaml:"time_budget_seconds"`
	} `yaml:"questions"`
}

// NewImportCmd loads a deck from a YAML file into Postgres.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <deck.yaml>",
		Short: "Import a flashcard deck from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			deck, err := readDeckFile(args[0])
			if err != nil {
				return err
			}

			db := postgres.OpenDB(cfg.Postgres.URL)
			defer db.Close()
			if err := postgres.SaveDeck(cmd.Context(), db, deck); err != nil {
				return err
			}
			log.Info("deck imported", zap.String("deck_id", deck.ID), zap.Int("questions", len(deck.Questions)))
			return nil
		},
	}
}

func readDeckFile(path string) (domain.Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Deck{}, err
	}
	var f deckFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.Deck{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.ID == "" {
		return domain.Deck{}, fmt.Errorf("parse %s: deck id is required", path)
	}

	deck := domain.Deck{ID: f.ID, Title: f.Title}
	for _, q := range f.Questions {
		deck.Questions = append(deck.Questions, domain.Question{
			ID:                q.ID,
			Prompt:            q.Prompt,
			Options:           q.Options,
			CorrectOption:     q.Answer,
			TimeBudgetSeconds: q.TimeBudget,
		})
	}
	return deck, nil
}
