package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quiz-orchestrator/internal/logger"
)

// RoomRepository abstracts where live room actors are indexed (in-memory, Redis-assisted, etc).
type RoomRepository interface {
	// GetOrCreate returns the room for roomID, calling create only if none exists.
	// The bool reports whether the room was created by this call.
	GetOrCreate(roomID string, create func() *Room) (*Room, bool)
	Get(roomID string) (*Room, bool)
	// Delete removes roomID only while it still maps to room.
	Delete(roomID string, room *Room)
	List() []*Room
}

// Registry creates room actors on demand and evicts them once destroyed.
type Registry struct {
	rooms RoomRepository
	deps  RoomDeps
	log   *zap.Logger
}

func NewRegistry(rooms RoomRepository, deps RoomDeps) *Registry {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	deps.Logger = logger.OrNop(deps.Logger)
	return &Registry{rooms: rooms, deps: deps, log: deps.Logger}
}

// Open returns the room for roomID, creating it if it does not exist yet.
func (g *Registry) Open(roomID string) (*Room, bool) {
	return g.rooms.GetOrCreate(roomID, func() *Room {
		return newRoom(roomID, g.deps, g.forget)
	})
}

func (g *Registry) Get(roomID string) (*Room, bool) {
	return g.rooms.Get(roomID)
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	return len(g.rooms.List())
}

// Sweep asks every room to evict players whose grace period expired.
func (g *Registry) Sweep() {
	for _, room := range g.rooms.List() {
		room.Sweep()
	}
}

// Run sweeps on every interval until ctx is cancelled, then closes all rooms.
func (g *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Sweep()
		case <-ctx.Done():
			g.Close()
			return nil
		}
	}
}

// Close destroys every room.
func (g *Registry) Close() {
	for _, room := range g.rooms.List() {
		room.Close()
	}
}

func (g *Registry) forget(room *Room) {
	g.rooms.Delete(room.ID(), room)
	g.log.Info("room removed", zap.String("room_id", room.ID()))
}
