package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-orchestrator/internal/domain"
)

const roomCodeAttempts = 10

// QuizService routes inbound client actions to the addressed room actor.
type QuizService struct {
	rooms *Registry
	log   *zap.Logger
	codes func() string
}

func NewQuizService(rooms *Registry) *QuizService {
	return &QuizService{rooms: rooms, log: rooms.log, codes: newRoomCode}
}

// NewQuizServiceWithCodes is test-only for deterministic room codes.
func NewQuizServiceWithCodes(rooms *Registry, codes func() string) *QuizService {
	s := NewQuizService(rooms)
	s.codes = codes
	return s
}

// CreateRoom opens a room with a fresh code bound to deckID and joins the caller as host.
func (s *QuizService) CreateRoom(ctx context.Context, deckID string, host domain.Identity) (domain.Snapshot, *Subscription, error) {
	if strings.TrimSpace(deckID) == "" {
		return domain.Snapshot{}, nil, domain.ErrDeckRequired
	}
	for i := 0; i < roomCodeAttempts; i++ {
		code := s.codes()
		room, created := s.rooms.Open(code)
		if !created {
			continue
		}
		s.log.Info("room opened", zap.String("room_id", code), zap.String("deck_id", deckID), zap.String("player_id", host.PlayerID))
		return room.Join(ctx, host, deckID)
	}
	return domain.Snapshot{}, nil, fmt.Errorf("failed to generate unique room code after %d attempts", roomCodeAttempts)
}

// Join registers, refreshes, or reconnects a player, creating the room on first join.
// deckID is only used when the room has no deck yet.
func (s *QuizService) Join(ctx context.Context, roomID, deckID string, who domain.Identity) (domain.Snapshot, *Subscription, error) {
	if roomID == "" || who.PlayerID == "" {
		return domain.Snapshot{}, nil, domain.ErrInvalidEvent
	}
	// A room may be destroyed between lookup and delivery; the retry lands on a fresh one.
	for attempt := 0; ; attempt++ {
		room, _ := s.rooms.Open(roomID)
		snap, sub, err := room.Join(ctx, who, deckID)
		if errors.Is(err, domain.ErrRoomNotFound) && attempt == 0 {
			continue
		}
		return snap, sub, err
	}
}

// Leave marks the player disconnected and ends their event stream.
func (s *QuizService) Leave(ctx context.Context, roomID, playerID string) error {
	room, err := s.room(roomID)
	if err != nil {
		return err
	}
	return room.Leave(ctx, playerID)
}

// Disconnect is called by the transport when a member's connection drops.
func (s *QuizService) Disconnect(ctx context.Context, roomID, playerID string, sub *Subscription) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		if sub != nil {
			sub.Close()
		}
		return
	}
	if err := room.Disconnect(ctx, playerID, sub); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		s.log.Debug("disconnect ignored", zap.String("room_id", roomID), zap.String("player_id", playerID), zap.Error(err))
	}
}

// Start begins the quiz. Only the host may start; deckID optionally overrides the room's deck.
func (s *QuizService) Start(ctx context.Context, roomID, playerID, deckID string) error {
	room, err := s.room(roomID)
	if err != nil {
		return err
	}
	return room.Start(ctx, playerID, deckID)
}

// SubmitAnswer records the player's answer for the open question.
func (s *QuizService) SubmitAnswer(ctx context.Context, roomID, playerID, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return domain.ErrInvalidAnswer
	}
	room, err := s.room(roomID)
	if err != nil {
		return err
	}
	return room.Submit(ctx, playerID, answer)
}

// Snapshot returns the current view of a room for playerID.
func (s *QuizService) Snapshot(ctx context.Context, roomID, playerID string) (domain.Snapshot, error) {
	room, err := s.room(roomID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return room.Snapshot(ctx, playerID)
}

func (s *QuizService) room(roomID string) (*Room, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// newRoomCode derives a short, shareable room code from a random UUID.
func newRoomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:5])
}
