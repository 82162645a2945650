package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-orchestrator/internal/app"
)

const (
	roomDirectoryKey = "quiz:rooms"
	// markerTimeout bounds each liveness write; the local map never waits on Redis.
	markerTimeout = 2 * time.Second
)

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - Room actors are process-local; the local map is authoritative for routing.
//   - Redis holds a liveness key per room and a directory set of room ids so
//     operators (and other instances) can see which rooms are live here.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	rooms  map[string]*app.Room
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*app.Room),
	}
}

func (s *RoomStore) GetOrCreate(roomID string, create func() *app.Room) (*app.Room, bool) {
	s.mu.Lock()
	if room, ok := s.rooms[roomID]; ok {
		s.mu.Unlock()
		return room, false
	}
	room := create()
	s.rooms[roomID] = room
	s.mu.Unlock()

	// best-effort liveness marker
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(roomID), "1", s.ttl)
	pipe.SAdd(ctx, roomDirectoryKey, roomID)
	_, _ = pipe.Exec(ctx)
	return room, true
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

func (s *RoomStore) Delete(roomID string, room *app.Room) {
	s.mu.Lock()
	current, ok := s.rooms[roomID]
	if !ok || current != room {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, roomID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(roomID))
	pipe.SRem(ctx, roomDirectoryKey, roomID)
	_, _ = pipe.Exec(ctx)
}

// List returns the live rooms and refreshes their liveness keys.
func (s *RoomStore) List() []*app.Room {
	s.mu.RLock()
	rooms := make([]*app.Room, 0, len(s.rooms))
	ids := make([]string, 0, len(s.rooms))
	for id, room := range s.rooms {
		rooms = append(rooms, room)
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	if len(ids) > 0 && s.ttl > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
		defer cancel()
		pipe := s.client.Pipeline()
		for _, id := range ids {
			pipe.Expire(ctx, s.key(id), s.ttl)
		}
		_, _ = pipe.Exec(ctx)
	}
	return rooms
}

// Directory lists the room ids recorded in Redis.
func (s *RoomStore) Directory(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, roomDirectoryKey).Result()
}

func (s *RoomStore) key(roomID string) string {
	return "quiz:room:" + roomID
}
