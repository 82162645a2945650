package domain

import (
	"strings"
	"time"
)

// RoomState is the lifecycle phase of a quiz room.
type RoomState string

const (
	RoomLobby      RoomState = "LOBBY"
	RoomInProgress RoomState = "IN_PROGRESS"
	RoomFinished   RoomState = "FINISHED"
)

// ConnectionStatus tracks whether a player currently holds a live connection.
type ConnectionStatus string

const (
	Connected    ConnectionStatus = "CONNECTED"
	Disconnected ConnectionStatus = "DISCONNECTED"
)

// Identity is the trusted, pre-authenticated caller attached to a connection.
// PlayerID is stable across reconnects.
type Identity struct {
	PlayerID    string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Player is a room member and their accumulated score.
type Player struct {
	ID             string
	DisplayName    string
	AvatarRef      string
	Score          int
	Status         ConnectionStatus
	DisconnectedAt time.Time
}

// View returns the wire representation of the player.
func (p *Player) View(hostID string) PlayerView {
	return PlayerView{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		AvatarRef:   p.AvatarRef,
		Score:       p.Score,
		Status:      p.Status,
		IsHost:      p.ID == hostID,
	}
}

// PlayerView is a snapshot-friendly view of a player.
type PlayerView struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	AvatarRef   string           `json:"avatarRef,omitempty"`
	Score       int              `json:"score"`
	Status      ConnectionStatus `json:"connectionStatus"`
	IsHost      bool             `json:"isHost"`
}

// Question models a multiple choice question with exactly one correct option.
type Question struct {
	ID                string   `json:"id"`
	Prompt            string   `json:"prompt"`
	Options           []string `json:"options"`
	CorrectOption     string   `json:"correctOption"`
	TimeBudgetSeconds int      `json:"timeBudgetSeconds"` // room default applies if zero
}

const (
	MinOptions = 2
	MaxOptions = 6
)

// Validate checks the option count and that the correct option is one of the options.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return ErrInvalidQuestion
	}
	if len(q.Options) < MinOptions || len(q.Options) > MaxOptions {
		return ErrInvalidQuestion
	}
	if _, ok := q.Match(q.CorrectOption); !ok {
		return ErrInvalidQuestion
	}
	return nil
}

// Match resolves a submitted answer to the canonical option text.
// Comparison ignores case and surrounding whitespace.
func (q Question) Match(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	for _, opt := range q.Options {
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			return opt, true
		}
	}
	return "", false
}

// IsCorrect reports whether the canonical option is the correct one.
func (q Question) IsCorrect(option string) bool {
	return strings.EqualFold(strings.TrimSpace(option), strings.TrimSpace(q.CorrectOption))
}

// Deck is the ordered set of questions a room plays through.
type Deck struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// QuestionView is a question as shown to players; it never carries the answer.
type QuestionView struct {
	Index       int       `json:"index"`
	Total       int       `json:"total"`
	Prompt      string    `json:"prompt"`
	Options     []string  `json:"options"`
	Deadline    time.Time `json:"deadline"`
	RemainingMs int64     `json:"remainingMs"`
	Answered    bool      `json:"answered"`
}

// Snapshot is the full view of a room delivered on join and reconnection.
type Snapshot struct {
	RoomID   string        `json:"roomId"`
	DeckID   string        `json:"deckId,omitempty"`
	State    RoomState     `json:"state"`
	HostID   string        `json:"hostId"`
	Players  []PlayerView  `json:"players"`
	Question *QuestionView `json:"question,omitempty"`
}
