package domain

import "time"

// EventType names an outbound room event.
type EventType string

const (
	EventRoomUpdated  EventType = "room_updated"
	EventQuestion     EventType = "question"
	EventAnswerResult EventType = "answer_result"
	EventFinished     EventType = "finished"
	EventStartFailed  EventType = "start_failed"
)

// Event is broadcast to every connected member of a room. Seq increases by one
// per event within a room.
type Event struct {
	Type    EventType `json:"type"`
	RoomID  string    `json:"roomId"`
	Seq     uint64    `json:"seq"`
	Payload any       `json:"payload"`
}

type RoomUpdated struct {
	State   RoomState    `json:"state"`
	Players []PlayerView `json:"players"`
	HostID  string       `json:"hostId"`
}

type QuestionPosed struct {
	Index    int       `json:"index"`
	Total    int       `json:"total"`
	Prompt   string    `json:"prompt"`
	Options  []string  `json:"options"`
	Deadline time.Time `json:"deadline"`
}

// AnswerResult reveals the correct option along with the full scoreboard in join order.
// Awarded holds the score delta of every player who answered correctly.
type AnswerResult struct {
	Index         int            `json:"index"`
	CorrectOption string         `json:"correctOption"`
	Players       []PlayerView   `json:"players"`
	Awarded       map[string]int `json:"awarded"`
}

// Finished carries the final scoreboard, highest score first.
type Finished struct {
	Players []PlayerView `json:"players"`
}

type StartFailed struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
