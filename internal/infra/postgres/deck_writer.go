package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-orchestrator/internal/domain"
)

type deckRow struct {
	bun.BaseModel `bun:"table:decks"`

	ID    string `bun:"id,pk"`
	Title string `bun:"title"`
}

type flashcardRow struct {
	bun.BaseModel `bun:"table:flashcards"`

	ID                string   `bun:"id,pk"`
	DeckID            string   `bun:"deck_id"`
	Position          int      `bun:"position"`
	Question          string   `bun:"question"`
	Answer            string   `bun:"answer"`
	Options           []string `bun:"options,type:jsonb"`
	TimeBudgetSeconds int      `bun:"time_budget_seconds"`
}

// OpenDB opens a bun handle over the pgdriver connector.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// SaveDeck upserts a deck and replaces its flashcards in one transaction.
// Questions keep the order they have in deck.Questions.
func SaveDeck(ctx context.Context, db *bun.DB, deck domain.Deck) error {
	for i, q := range deck.Questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %d (%s): %w", i, q.ID, err)
		}
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := deckRow{ID: deck.ID, Title: deck.Title}
		if _, err := tx.NewInsert().Model(&row).
			On("CONFLICT (id) DO UPDATE").
			Set("title = EXCLUDED.title").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert deck: %w", err)
		}
		if _, err := tx.NewDelete().Model((*flashcardRow)(nil)).Where("deck_id = ?", deck.ID).Exec(ctx); err != nil {
			return fmt.Errorf("clear flashcards: %w", err)
		}
		if len(deck.Questions) == 0 {
			return nil
		}

		cards := make([]flashcardRow, 0, len(deck.Questions))
		for i, q := range deck.Questions {
			id := q.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", deck.ID, i+1)
			}
			cards = append(cards, flashcardRow{
				ID:                id,
				DeckID:            deck.ID,
				Position:          i,
				Question:          q.Prompt,
				Answer:            q.CorrectOption,
				Options:           q.Options,
				TimeBudgetSeconds: q.TimeBudgetSeconds,
			})
		}
		if _, err := tx.NewInsert().Model(&cards).Exec(ctx); err != nil {
			return fmt.Errorf("insert flashcards: %w", err)
		}
		return nil
	})
}
