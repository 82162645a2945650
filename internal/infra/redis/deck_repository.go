package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-orchestrator/internal/domain"
	"quiz-orchestrator/internal/infra/memory"
)

// DeckRepository caches decks in Redis (one JSON value per deck) and falls back
// to a loader on cache miss. It is the Question Source consumed by room actors.
// Decks are stored as: SET quiz:deck:{deckID} {json} EX ttl
type DeckRepository struct {
	client  *redis.Client
	loader  memory.DeckLoader
	ttl     time.Duration
	timeout time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewDeckRepository(client *redis.Client, loader memory.DeckLoader, ttl time.Duration) *DeckRepository {
	return &DeckRepository{
		client:  client,
		loader:  loader,
		ttl:     ttl,
		timeout: memory.DefaultLoadTimeout,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// LoadQuestions returns up to limit playable questions of the deck in order.
func (r *DeckRepository) LoadQuestions(ctx context.Context, deckID string, limit int) ([]domain.Question, error) {
	deck, err := r.GetDeck(ctx, deckID)
	if err != nil {
		return nil, memory.SourceError(err)
	}
	return memory.Playable(deck.Questions, limit), nil
}

func (r *DeckRepository) GetDeck(ctx context.Context, deckID string) (domain.Deck, error) {
	if deck, ok := r.cached(ctx, deckID); ok {
		return deck, nil
	}

	return memory.SharedLoad(ctx, &r.sf, deckID, r.timeout, func(loadCtx context.Context) (domain.Deck, error) {
		// Re-check cache in case another goroutine filled it.
		if deck, ok := r.cached(loadCtx, deckID); ok {
			return deck, nil
		}

		deck, err := r.loader.LoadDeck(loadCtx, deckID)
		if err != nil {
			return domain.Deck{}, err
		}

		data, err := json.Marshal(deck)
		if err != nil {
			return domain.Deck{}, fmt.Errorf("marshal deck: %w", err)
		}
		_ = r.client.Set(loadCtx, r.deckKey(deckID), data, r.ttlWithJitter()).Err()
		return deck, nil
	})
}

// cached treats any Redis failure as a miss so the loader stays the source of truth.
func (r *DeckRepository) cached(ctx context.Context, deckID string) (domain.Deck, bool) {
	raw, err := r.client.Get(ctx, r.deckKey(deckID)).Bytes()
	if err != nil {
		return domain.Deck{}, false
	}
	var deck domain.Deck
	if err := json.Unmarshal(raw, &deck); err != nil {
		return domain.Deck{}, false
	}
	return deck, true
}

// Invalidate drops a cached deck so the next start reloads it.
func (r *DeckRepository) Invalidate(ctx context.Context, deckID string) error {
	return r.client.Del(ctx, r.deckKey(deckID)).Err()
}

func (r *DeckRepository) deckKey(deckID string) string {
	return "quiz:deck:" + deckID
}

func (r *DeckRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
