package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-orchestrator/internal/app"
	"quiz-orchestrator/internal/domain"
	"quiz-orchestrator/internal/infra/memory"
)

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	RoomID    string          `json:"roomId"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

type testClient struct {
	t       *testing.T
	conn    *websocket.Conn
	backlog []frame
}

func dial(t *testing.T, server *httptest.Server, userID, name string) *testClient {
	t.Helper()
	q := url.Values{"userId": {userID}, "name": {name}}
	u := "ws" + server.URL[len("http"):] + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(typ, requestID string, payload map[string]any) {
	c.t.Helper()
	msg := map[string]any{"type": typ, "requestId": requestID, "payload": payload}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("write %s: %v", typ, err)
	}
}

// expect returns the next frame of the given type, keeping frames of other
// types for later calls.
func (c *testClient) expect(typ string) frame {
	c.t.Helper()
	for i, f := range c.backlog {
		if f.Type == typ {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return f
		}
	}
	for {
		var f frame
		_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
		c.backlog = append(c.backlog, f)
	}
}

func (c *testClient) expectAck(requestID string) ackPayload {
	c.t.Helper()
	for {
		f := c.expect("ack")
		if f.RequestID != requestID {
			continue
		}
		var ack ackPayload
		if err := json.Unmarshal(f.Payload, &ack); err != nil {
			c.t.Fatalf("decode ack: %v", err)
		}
		return ack
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	rules := app.DefaultRules()
	rules.RevealDelay = 0
	decks := map[string]domain.Deck{
		"deck-1": {
			ID: "deck-1",
			Questions: []domain.Question{
				{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4", TimeBudgetSeconds: 10},
			},
		},
	}
	registry := app.NewRegistry(memory.NewRoomStore(), app.RoomDeps{
		Rules:  rules,
		Source: memory.NewDeckRepository(memory.NewStaticDeckLoader(decks), time.Minute),
	})
	t.Cleanup(registry.Close)
	wsHandler := NewWSHandler(app.NewQuizService(registry), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestWebSocketGameFlow(t *testing.T) {
	server := newTestServer(t)
	alice := dial(t, server, "u1", "Alice")
	bob := dial(t, server, "u2", "Bob")

	alice.send("create", "c1", map[string]any{"deckId": "deck-1"})
	created := alice.expectAck("c1")
	if !created.Success || created.RoomID == "" || created.Room == nil {
		t.Fatalf("expected successful create, got %+v", created)
	}
	if created.Room.HostID != "u1" {
		t.Fatalf("expected u1 to host, got %s", created.Room.HostID)
	}
	roomID := created.RoomID

	bob.send("join", "j1", map[string]any{"roomId": roomID})
	joined := bob.expectAck("j1")
	if !joined.Success || len(joined.Room.Players) != 2 {
		t.Fatalf("expected bob to join with two players, got %+v", joined)
	}

	bob.send("start", "s0", map[string]any{"roomId": roomID})
	if ack := bob.expectAck("s0"); ack.Success || ack.Reason != "NOT_HOST" {
		t.Fatalf("expected NOT_HOST, got %+v", ack)
	}

	alice.send("start", "s1", map[string]any{"roomId": roomID})
	if ack := alice.expectAck("s1"); !ack.Success {
		t.Fatalf("expected start to succeed, got %+v", ack)
	}

	for _, c := range []*testClient{alice, bob} {
		f := c.expect("question")
		var q domain.QuestionPosed
		if err := json.Unmarshal(f.Payload, &q); err != nil {
			t.Fatalf("decode question: %v", err)
		}
		if f.RoomID != roomID || q.Index != 0 || q.Total != 1 || len(q.Options) != 3 {
			t.Fatalf("unexpected question frame %+v / %+v", f, q)
		}
	}

	alice.send("submit_answer", "a1", map[string]any{"roomId": roomID, "answer": " 4 "})
	if ack := alice.expectAck("a1"); !ack.Success {
		t.Fatalf("expected answer accepted, got %+v", ack)
	}
	alice.send("submit_answer", "a2", map[string]any{"roomId": roomID, "answer": "5"})
	if ack := alice.expectAck("a2"); ack.Reason != "ALREADY_ANSWERED" {
		t.Fatalf("expected ALREADY_ANSWERED, got %+v", ack)
	}
	bob.send("submit_answer", "b1", map[string]any{"roomId": roomID, "answer": "3"})
	if ack := bob.expectAck("b1"); !ack.Success {
		t.Fatalf("expected answer accepted, got %+v", ack)
	}

	var result domain.AnswerResult
	if err := json.Unmarshal(bob.expect("answer_result").Payload, &result); err != nil {
		t.Fatalf("decode answer_result: %v", err)
	}
	if result.CorrectOption != "4" {
		t.Fatalf("expected correct option 4, got %q", result.CorrectOption)
	}

	var finished domain.Finished
	if err := json.Unmarshal(alice.expect("finished").Payload, &finished); err != nil {
		t.Fatalf("decode finished: %v", err)
	}
	if len(finished.Players) != 2 || finished.Players[0].ID != "u1" || finished.Players[0].Score <= 0 {
		t.Fatalf("expected alice to lead the final scoreboard, got %+v", finished.Players)
	}
	if finished.Players[1].Score != 0 {
		t.Fatalf("expected bob to score nothing, got %d", finished.Players[1].Score)
	}
}

func TestWebSocketRejectsUnknownFrames(t *testing.T) {
	server := newTestServer(t)
	alice := dial(t, server, "u1", "Alice")

	alice.send("teleport", "x1", nil)
	if ack := alice.expectAck("x1"); ack.Success || ack.Reason != "INVALID_EVENT" {
		t.Fatalf("expected INVALID_EVENT, got %+v", ack)
	}

	alice.send("join", "x2", map[string]any{"roomId": "NOPE1"})
	if ack := alice.expectAck("x2"); !ack.Success {
		t.Fatalf("expected join to create the room, got %+v", ack)
	}
	alice.send("submit_answer", "x3", map[string]any{"roomId": "NOPE1", "answer": "4"})
	if ack := alice.expectAck("x3"); ack.Reason != "GAME_NOT_STARTED" {
		t.Fatalf("expected GAME_NOT_STARTED, got %+v", ack)
	}
	alice.send("start", "x4", map[string]any{"roomId": "MISSING"})
	if ack := alice.expectAck("x4"); ack.Reason != "ROOM_NOT_FOUND" {
		t.Fatalf("expected ROOM_NOT_FOUND, got %+v", ack)
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws?name=Alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebSocketDisconnectHandsOverHost(t *testing.T) {
	server := newTestServer(t)
	alice := dial(t, server, "u1", "Alice")
	bob := dial(t, server, "u2", "Bob")

	alice.send("join", "j1", map[string]any{"roomId": "ROOMX", "deckId": "deck-1"})
	if ack := alice.expectAck("j1"); !ack.Success {
		t.Fatalf("join failed: %+v", ack)
	}
	bob.send("join", "j2", map[string]any{"roomId": "ROOMX"})
	if ack := bob.expectAck("j2"); !ack.Success {
		t.Fatalf("join failed: %+v", ack)
	}

	alice.conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var update domain.RoomUpdated
		if err := json.Unmarshal(bob.expect("room_updated").Payload, &update); err != nil {
			t.Fatalf("decode room_updated: %v", err)
		}
		if update.HostID == "u2" {
			return
		}
	}
	t.Fatalf("expected host to pass to u2 after disconnect")
}
