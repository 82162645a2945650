package memory

import (
	"testing"
	"time"

	"quiz-orchestrator/internal/app"
	"quiz-orchestrator/internal/domain"
)

func TestRoomStoreLifecycle(t *testing.T) {
	store := NewRoomStore()
	registry := app.NewRegistry(store, app.RoomDeps{
		Rules:  app.DefaultRules(),
		Source: NewDeckRepository(NewStaticDeckLoader(map[string]domain.Deck{}), time.Minute),
	})

	room, created := registry.Open("ROOM1")
	if room == nil || !created {
		t.Fatalf("expected room to be created")
	}
	again, created := registry.Open("ROOM1")
	if again != room || created {
		t.Fatalf("expected existing room to be returned")
	}
	if got := len(store.List()); got != 1 {
		t.Fatalf("expected one room listed, got %d", got)
	}

	room.Close()
	select {
	case <-room.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("room did not shut down")
	}
	if _, ok := store.Get("ROOM1"); ok {
		t.Fatalf("expected room removed after close")
	}
}

func TestRoomStoreDeleteIgnoresReplacedRoom(t *testing.T) {
	store := NewRoomStore()
	registry := app.NewRegistry(store, app.RoomDeps{Rules: app.DefaultRules()})
	room, _ := registry.Open("ROOM1")
	defer room.Close()

	store.Delete("ROOM1", nil)
	if _, ok := store.Get("ROOM1"); !ok {
		t.Fatalf("expected room kept when deleting a stale entry")
	}
}
