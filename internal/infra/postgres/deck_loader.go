package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-orchestrator/internal/domain"
)

// DeckLoader reads a deck and its flashcards from Postgres.
type DeckLoader struct {
	pool *pgxpool.Pool
}

func NewDeckLoader(pool *pgxpool.Pool) *DeckLoader {
	return &DeckLoader{pool: pool}
}

func (l *DeckLoader) LoadDeck(ctx context.Context, deckID string) (domain.Deck, error) {
	deck := domain.Deck{ID: deckID}
	err := l.pool.QueryRow(ctx, `SELECT title FROM decks WHERE id=$1`, deckID).Scan(&deck.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Deck{}, domain.ErrDeckNotFound
	}
	if err != nil {
		return domain.Deck{}, fmt.Errorf("load deck: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, question, answer, options, time_budget_seconds
		FROM flashcards
		WHERE deck_id=$1
		ORDER BY position, id`, deckID)
	if err != nil {
		return domain.Deck{}, fmt.Errorf("load flashcards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       domain.Question
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &q.CorrectOption, &options, &q.TimeBudgetSeconds); err != nil {
			return domain.Deck{}, fmt.Errorf("scan flashcard: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return domain.Deck{}, fmt.Errorf("unmarshal options for %s: %w", q.ID, err)
		}
		deck.Questions = append(deck.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Deck{}, fmt.Errorf("iterate flashcards: %w", err)
	}
	return deck, nil
}
