package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-orchestrator/internal/domain"
)

// DeckLoader fetches deck content from a backing store (e.g., Postgres).
type DeckLoader interface {
	LoadDeck(ctx context.Context, deckID string) (domain.Deck, error)
}

// DeckRepository caches decks with TTL to avoid repeated DB hits. It is the
// Question Source consumed by room actors.
type DeckRepository struct {
	loader  DeckLoader
	ttl     time.Duration
	timeout time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedDeck
}

type cachedDeck struct {
	deck      domain.Deck
	expiresAt time.Time
}

func NewDeckRepository(loader DeckLoader, ttl time.Duration) *DeckRepository {
	return &DeckRepository{
		loader:  loader,
		ttl:     ttl,
		timeout: DefaultLoadTimeout,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:   make(map[string]cachedDeck),
	}
}

// LoadQuestions returns up to limit playable questions of the deck in order.
func (r *DeckRepository) LoadQuestions(ctx context.Context, deckID string, limit int) ([]domain.Question, error) {
	deck, err := r.GetDeck(ctx, deckID)
	if err != nil {
		return nil, SourceError(err)
	}
	return Playable(deck.Questions, limit), nil
}

func (r *DeckRepository) GetDeck(ctx context.Context, deckID string) (domain.Deck, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[deckID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.deck, nil
	}
	r.mu.RUnlock()

	return SharedLoad(ctx, &r.sf, deckID, r.timeout, func(loadCtx context.Context) (domain.Deck, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[deckID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.deck, nil
		}
		r.mu.RUnlock()

		deck, err := r.loader.LoadDeck(loadCtx, deckID)
		if err != nil {
			return domain.Deck{}, err
		}

		r.mu.Lock()
		r.cache[deckID] = cachedDeck{
			deck:      deck,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return deck, nil
	})
}

func (r *DeckRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticDeckLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticDeckLoader struct {
	decks map[string]domain.Deck
}

func NewStaticDeckLoader(decks map[string]domain.Deck) *StaticDeckLoader {
	return &StaticDeckLoader{decks: decks}
}

func (l *StaticDeckLoader) LoadDeck(_ context.Context, deckID string) (domain.Deck, error) {
	if deck, ok := l.decks[deckID]; ok {
		return deck, nil
	}
	return domain.Deck{}, domain.ErrDeckNotFound
}

// SourceError keeps domain errors as they are and reports anything else as SOURCE_UNAVAILABLE.
func SourceError(err error) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
}

// Playable copies, in deck order, at most limit questions that pass
// validation; limit <= 0 means no limit.
func Playable(questions []domain.Question, limit int) []domain.Question {
	out := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		if limit > 0 && len(out) == limit {
			break
		}
		if q.Validate() != nil {
			continue
		}
		out = append(out, q)
	}
	return out
}

// DefaultLoadTimeout bounds a shared deck fetch.
const DefaultLoadTimeout = 10 * time.Second

// SharedLoad runs load once per key for all concurrent callers. The load runs
// on a context detached from any single caller, so a caller that gives up only
// abandons its own wait.
func SharedLoad(ctx context.Context, sf *singleflight.Group, key string, timeout time.Duration, load func(context.Context) (domain.Deck, error)) (domain.Deck, error) {
	ch := sf.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return load(loadCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Deck{}, res.Err
		}
		return res.Val.(domain.Deck), nil
	case <-ctx.Done():
		return domain.Deck{}, ctx.Err()
	}
}
