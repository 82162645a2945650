package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"quiz-orchestrator/internal/domain"
)

func TestDeckRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		DeckLoader: NewStaticDeckLoader(map[string]domain.Deck{
			"deck-1": sampleDeck(),
		}),
	}
	repo := NewDeckRepository(loader, time.Minute)

	if _, err := repo.LoadQuestions(context.Background(), "deck-1", 0); err != nil {
		t.Fatalf("load questions: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.LoadQuestions(context.Background(), "deck-1", 0); err != nil {
		t.Fatalf("load questions 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestDeckRepositoryLimitsInOrder(t *testing.T) {
	repo := NewDeckRepository(NewStaticDeckLoader(map[string]domain.Deck{"deck-1": sampleDeck()}), time.Minute)

	questions, err := repo.LoadQuestions(context.Background(), "deck-1", 2)
	if err != nil {
		t.Fatalf("load questions: %v", err)
	}
	if len(questions) != 2 || questions[0].ID != "q1" || questions[1].ID != "q2" {
		t.Fatalf("expected first two questions in order, got %+v", questions)
	}

	questions[0].Prompt = "mutated"
	again, _ := repo.LoadQuestions(context.Background(), "deck-1", 2)
	if again[0].Prompt == "mutated" {
		t.Fatalf("expected callers to receive a copy of the cached slice")
	}
}

func TestDeckRepositorySkipsUnplayableBeforeLimit(t *testing.T) {
	deck := domain.Deck{ID: "long"}
	for i := 1; i <= 12; i++ {
		q := domain.Question{
			ID:            fmt.Sprintf("q%d", i),
			Prompt:        fmt.Sprintf("Question %d?", i),
			Options:       []string{"yes", "no"},
			CorrectOption: "yes",
		}
		if i <= 2 {
			q.Options = []string{"yes"}
		}
		deck.Questions = append(deck.Questions, q)
	}
	repo := NewDeckRepository(NewStaticDeckLoader(map[string]domain.Deck{"long": deck}), time.Minute)

	questions, err := repo.LoadQuestions(context.Background(), "long", 10)
	if err != nil {
		t.Fatalf("load questions: %v", err)
	}
	if len(questions) != 10 || questions[0].ID != "q3" || questions[9].ID != "q12" {
		t.Fatalf("expected q3..q12, got %d questions starting at %+v", len(questions), questions)
	}
}

func TestDeckRepositoryCallerCancelDoesNotFailOthers(t *testing.T) {
	loader := newGatedLoader(sampleDeck())
	repo := NewDeckRepository(loader, time.Minute)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := repo.LoadQuestions(ctxA, "deck-1", 0)
		errA <- err
	}()
	<-loader.entered

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled caller kept waiting on the shared load")
	}

	type result struct {
		questions []domain.Question
		err       error
	}
	resB := make(chan result, 1)
	go func() {
		questions, err := repo.LoadQuestions(context.Background(), "deck-1", 0)
		resB <- result{questions, err}
	}()
	close(loader.release)

	select {
	case res := <-resB:
		if res.err != nil || len(res.questions) != 3 {
			t.Fatalf("expected the other caller to get the deck, got %d questions, err %v", len(res.questions), res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the shared load")
	}
	if calls := loader.calls.Load(); calls != 1 {
		t.Fatalf("expected one shared load surviving the cancel, got %d", calls)
	}
}

func TestDeckRepositoryErrors(t *testing.T) {
	repo := NewDeckRepository(NewStaticDeckLoader(nil), time.Minute)
	_, err := repo.LoadQuestions(context.Background(), "missing", 0)
	if !errors.Is(err, domain.ErrDeckNotFound) {
		t.Fatalf("expected deck not found, got %v", err)
	}

	repo = NewDeckRepository(failingLoader{}, time.Minute)
	_, err = repo.LoadQuestions(context.Background(), "deck-1", 0)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
}

type countingLoader struct {
	DeckLoader
	calls int
}

func (l *countingLoader) LoadDeck(ctx context.Context, deckID string) (domain.Deck, error) {
	l.calls++
	return l.DeckLoader.LoadDeck(ctx, deckID)
}

// gatedLoader blocks inside LoadDeck until release is closed or its ctx ends.
type gatedLoader struct {
	deck     domain.Deck
	calls    atomic.Int32
	entered  chan struct{}
	release  chan struct{}
	enterOne atomic.Bool
}

func newGatedLoader(deck domain.Deck) *gatedLoader {
	return &gatedLoader{deck: deck, entered: make(chan struct{}), release: make(chan struct{})}
}

func (l *gatedLoader) LoadDeck(ctx context.Context, _ string) (domain.Deck, error) {
	l.calls.Add(1)
	if l.enterOne.CompareAndSwap(false, true) {
		close(l.entered)
	}
	select {
	case <-l.release:
		return l.deck, nil
	case <-ctx.Done():
		return domain.Deck{}, ctx.Err()
	}
}

type failingLoader struct{}

func (failingLoader) LoadDeck(context.Context, string) (domain.Deck, error) {
	return domain.Deck{}, errors.New("connection refused")
}

func sampleDeck() domain.Deck {
	return domain.Deck{
		ID: "deck-1",
		Questions: []domain.Question{
			{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4", TimeBudgetSeconds: 10},
			{ID: "q2", Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectOption: "Paris", TimeBudgetSeconds: 10},
			{ID: "q3", Prompt: "Largest planet?", Options: []string{"Mars", "Jupiter"}, CorrectOption: "Jupiter", TimeBudgetSeconds: 10},
		},
	}
}
