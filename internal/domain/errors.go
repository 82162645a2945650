package domain

import "errors"

// Category groups rejection codes by the kind of failure.
type Category string

const (
	CategoryValidation        Category = "VALIDATION"
	CategoryAuthorization     Category = "AUTHORIZATION"
	CategoryStateConflict     Category = "STATE_CONFLICT"
	CategoryPrecondition      Category = "PRECONDITION"
	CategoryDependencyFailure Category = "DEPENDENCY_FAILURE"
	CategoryNotFound          Category = "NOT_FOUND"
)

// Error is a rejection surfaced to the originating caller.
type Error struct {
	Code     string
	Category Category
	Message  string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code string, category Category, message string) *Error {
	return &Error{Code: code, Category: category, Message: message}
}

var (
	// ErrInvalidEvent is returned for malformed inbound events.
	ErrInvalidEvent = newError("INVALID_EVENT", CategoryValidation, "malformed event")
	// ErrInvalidAnswer indicates the submitted answer is not among the question's options.
	ErrInvalidAnswer = newError("INVALID_ANSWER", CategoryValidation, "answer is not one of the options")
	// ErrInvalidQuestion flags a question that cannot be played.
	ErrInvalidQuestion = newError("INVALID_QUESTION", CategoryValidation, "question must have 2-6 options including the correct one")
	// ErrDeckRequired is returned when a room is started without a deck.
	ErrDeckRequired = newError("DECK_REQUIRED", CategoryValidation, "room has no deck configured")

	ErrNotHost = newError("NOT_HOST", CategoryAuthorization, "only the host can start the quiz")

	ErrAlreadyAnswered    = newError("ALREADY_ANSWERED", CategoryStateConflict, "answer already submitted for this question")
	ErrQuestionClosed     = newError("QUESTION_CLOSED", CategoryStateConflict, "question is not accepting answers")
	ErrGameAlreadyStarted = newError("GAME_ALREADY_STARTED", CategoryStateConflict, "quiz has already started")
	ErrGameNotStarted     = newError("GAME_NOT_STARTED", CategoryStateConflict, "quiz has not started")

	ErrNotEnoughPlayers = newError("NOT_ENOUGH_PLAYERS", CategoryPrecondition, "at least two connected players are required")
	ErrRoomFull         = newError("ROOM_FULL", CategoryPrecondition, "room is at capacity")

	// ErrSourceUnavailable indicates the question source failed to deliver a deck.
	ErrSourceUnavailable = newError("SOURCE_UNAVAILABLE", CategoryDependencyFailure, "question source unavailable")
	// ErrNotEnoughQuestions indicates the deck has too few playable questions.
	ErrNotEnoughQuestions = newError("NOT_ENOUGH_QUESTIONS", CategoryDependencyFailure, "deck does not have enough questions")

	// ErrRoomNotFound is returned when a room does not exist or was destroyed.
	ErrRoomNotFound = newError("ROOM_NOT_FOUND", CategoryNotFound, "room not found")
	// ErrPlayerNotFound is returned when a caller acts on a room they never joined.
	ErrPlayerNotFound = newError("PLAYER_NOT_FOUND", CategoryNotFound, "player not found in room")
	// ErrDeckNotFound indicates the deck could not be loaded.
	ErrDeckNotFound = newError("DECK_NOT_FOUND", CategoryNotFound, "deck not found")
)

// CodeOf maps an error to its wire code; non-domain errors report INTERNAL.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// CategoryOf maps an error to its category, or "" for non-domain errors.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}
