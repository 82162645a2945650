package app

import (
	"sort"
	"time"

	"quiz-orchestrator/internal/domain"
	"quiz-orchestrator/internal/scoring"
)

// Rules are the gameplay parameters applied to every room.
type Rules struct {
	Capacity        int
	MinPlayers      int
	MinQuestions    int
	MaxQuestions    int
	DefaultBudget   time.Duration
	RevealDelay     time.Duration
	DisconnectGrace time.Duration
	EmptyRoomGrace  time.Duration
	FinishedGrace   time.Duration
	Scoring         scoring.Params
}

// DefaultRules mirrors the shipped configuration defaults.
func DefaultRules() Rules {
	return Rules{
		Capacity:        10,
		MinPlayers:      2,
		MinQuestions:    1,
		MaxQuestions:    10,
		DefaultBudget:   20 * time.Second,
		RevealDelay:     4 * time.Second,
		DisconnectGrace: 30 * time.Second,
		EmptyRoomGrace:  time.Minute,
		FinishedGrace:   time.Minute,
		Scoring:         scoring.DefaultParams,
	}
}

// Input is an inbound event for a single room.
type Input interface {
	kind() string
}

type Join struct {
	Identity domain.Identity
	DeckID   string
}

type Leave struct{ PlayerID string }

type Disconnect struct{ PlayerID string }

type Start struct {
	PlayerID string
	DeckID   string
}

type Submit struct {
	PlayerID string
	Answer   string
}

// QuestionsLoaded carries the Question Source result for a start attempt.
type QuestionsLoaded struct {
	Attempt   int
	Questions []domain.Question
	Err       error
}

// DeadlineElapsed is injected by the question timer.
type DeadlineElapsed struct{ Index int }

// Advance is injected once the reveal delay has passed.
type Advance struct{ Index int }

// Sweep evicts expired players and checks whether the room can be destroyed.
type Sweep struct{}

// Query returns a snapshot without touching state.
type Query struct{ PlayerID string }

func (Join) kind() string            { return "join" }
func (Leave) kind() string           { return "leave" }
func (Disconnect) kind() string      { return "disconnect" }
func (Start) kind() string           { return "start" }
func (Submit) kind() string          { return "submit_answer" }
func (QuestionsLoaded) kind() string { return "questions_loaded" }
func (DeadlineElapsed) kind() string { return "deadline" }
func (Advance) kind() string         { return "advance" }
func (Sweep) kind() string           { return "sweep" }
func (Query) kind() string           { return "query" }

// Effect is a side effect the room actor must carry out after a transition.
type Effect interface {
	effect()
}

type LoadQuestions struct {
	Attempt int
	DeckID  string
	Limit   int
}

type ScheduleDeadline struct {
	Index int
	At    time.Time
}

type CancelDeadline struct{ Index int }

type ScheduleAdvance struct {
	Index int
	After time.Duration
}

// Unsubscribe stops delivery to a member who left.
type Unsubscribe struct{ PlayerID string }

// Destroy removes the room from the registry.
type Destroy struct{}

func (LoadQuestions) effect()    {}
func (ScheduleDeadline) effect() {}
func (CancelDeadline) effect()   {}
func (ScheduleAdvance) effect()  {}
func (Unsubscribe) effect()      {}
func (Destroy) effect()          {}

// Result is the outcome of one input. Err is only reported to the caller;
// Events are broadcast to the room in order.
type Result struct {
	Err      error
	Snapshot *domain.Snapshot
	Events   []domain.Event
	Effects  []Effect
}

type phase int

const (
	phaseIdle phase = iota
	phaseLoading
	phaseAwaiting
	phaseRevealing
)

type answer struct {
	option string
	at     time.Time
}

// Machine holds the authoritative state of one room. It is not safe for
// concurrent use; the owning Room serializes every call to Handle. Given the
// same sequence of (time, input) pairs it emits the same events.
type Machine struct {
	id    string
	rules Rules

	deckID    string
	state     domain.RoomState
	players   map[string]*domain.Player
	order     []string
	hostID    string
	questions []domain.Question
	index     int

	phase    phase
	openedAt time.Time
	deadline time.Time
	answers  map[string]answer

	loadAttempt int
	finishedAt  time.Time
	emptySince  time.Time
	seq         uint64
	destroyed   bool
}

// NewMachine creates a room in LOBBY. createdAt starts the empty-room grace period.
func NewMachine(id string, rules Rules, createdAt time.Time) *Machine {
	return &Machine{
		id:         id,
		rules:      rules,
		state:      domain.RoomLobby,
		players:    make(map[string]*domain.Player),
		index:      -1,
		answers:    make(map[string]answer),
		emptySince: createdAt,
	}
}

// Handle applies one input at the given arrival time.
func (m *Machine) Handle(at time.Time, in Input) Result {
	var r Result
	if m.destroyed {
		r.Err = domain.ErrRoomNotFound
		return r
	}
	switch in := in.(type) {
	case Join:
		m.join(at, in, &r)
	case Leave:
		m.leave(at, in.PlayerID, true, &r)
	case Disconnect:
		m.leave(at, in.PlayerID, false, &r)
	case Start:
		m.start(in, &r)
	case Submit:
		m.submit(at, in, &r)
	case QuestionsLoaded:
		m.questionsLoaded(at, in, &r)
	case DeadlineElapsed:
		if m.phase == phaseAwaiting && in.Index == m.index {
			m.closeQuestion(at, &r)
		}
	case Advance:
		if m.phase == phaseRevealing && in.Index == m.index {
			m.advance(at, &r)
		}
	case Sweep:
		m.sweep(at, &r)
	case Query:
		snap := m.snapshot(at, in.PlayerID)
		r.Snapshot = &snap
	default:
		panic("app: unknown room input")
	}
	return r
}

func (m *Machine) join(at time.Time, in Join, r *Result) {
	who := in.Identity
	if who.PlayerID == "" {
		r.Err = domain.ErrInvalidEvent
		return
	}

	if p, ok := m.players[who.PlayerID]; ok {
		changed := m.refreshIdentity(p, who)
		if p.Status == domain.Disconnected {
			p.Status = domain.Connected
			p.DisconnectedAt = time.Time{}
			m.emptySince = time.Time{}
			changed = true
		}
		if changed {
			m.emitRoomUpdated(r)
		}
		snap := m.snapshot(at, p.ID)
		r.Snapshot = &snap
		return
	}

	if m.state != domain.RoomLobby {
		r.Err = domain.ErrGameAlreadyStarted
		return
	}
	if len(m.order) >= m.rules.Capacity {
		r.Err = domain.ErrRoomFull
		return
	}

	p := &domain.Player{
		ID:          who.PlayerID,
		DisplayName: who.DisplayName,
		AvatarRef:   who.AvatarRef,
		Status:      domain.Connected,
	}
	m.players[p.ID] = p
	m.order = append(m.order, p.ID)
	if m.hostID == "" {
		m.hostID = p.ID
	}
	if m.deckID == "" {
		m.deckID = in.DeckID
	}
	m.emptySince = time.Time{}

	m.emitRoomUpdated(r)
	snap := m.snapshot(at, p.ID)
	r.Snapshot = &snap
}

func (m *Machine) refreshIdentity(p *domain.Player, who domain.Identity) bool {
	changed := false
	if who.DisplayName != "" && who.DisplayName != p.DisplayName {
		p.DisplayName = who.DisplayName
		changed = true
	}
	if who.AvatarRef != "" && who.AvatarRef != p.AvatarRef {
		p.AvatarRef = who.AvatarRef
		changed = true
	}
	return changed
}

// leave handles both an explicit leave and a transport disconnect. The player
// keeps their slot and score until the disconnect grace period expires.
func (m *Machine) leave(at time.Time, playerID string, explicit bool, r *Result) {
	p, ok := m.players[playerID]
	if !ok {
		r.Err = domain.ErrPlayerNotFound
		return
	}
	if explicit {
		r.Effects = append(r.Effects, Unsubscribe{PlayerID: playerID})
	}
	if p.Status == domain.Disconnected {
		return
	}

	p.Status = domain.Disconnected
	p.DisconnectedAt = at
	if m.hostID == p.ID {
		if next := m.nextConnected(p.ID); next != "" {
			m.hostID = next
		}
	}
	if m.connectedCount() == 0 {
		m.emptySince = at
	}

	m.emitRoomUpdated(r)
	m.closeIfAllAnswered(at, r)
}

func (m *Machine) start(in Start, r *Result) {
	if _, ok := m.players[in.PlayerID]; !ok {
		r.Err = domain.ErrPlayerNotFound
		return
	}
	if m.state != domain.RoomLobby {
		r.Err = domain.ErrGameAlreadyStarted
		return
	}
	if m.hostID != in.PlayerID {
		r.Err = domain.ErrNotHost
		return
	}
	if m.connectedCount() < m.rules.MinPlayers {
		r.Err = domain.ErrNotEnoughPlayers
		return
	}
	deckID := m.deckID
	if in.DeckID != "" {
		deckID = in.DeckID
	}
	if deckID == "" {
		r.Err = domain.ErrDeckRequired
		return
	}

	m.deckID = deckID
	m.state = domain.RoomInProgress
	m.phase = phaseLoading
	m.loadAttempt++

	m.emitRoomUpdated(r)
	r.Effects = append(r.Effects, LoadQuestions{
		Attempt: m.loadAttempt,
		DeckID:  deckID,
		Limit:   m.rules.MaxQuestions,
	})
}

func (m *Machine) questionsLoaded(at time.Time, in QuestionsLoaded, r *Result) {
	if m.state != domain.RoomInProgress || m.phase != phaseLoading || in.Attempt != m.loadAttempt {
		return
	}
	if in.Err != nil {
		m.failStart(in.Err, r)
		return
	}

	playable := make([]domain.Question, 0, len(in.Questions))
	for _, q := range in.Questions {
		if q.Validate() != nil {
			continue
		}
		playable = append(playable, q)
		if m.rules.MaxQuestions > 0 && len(playable) == m.rules.MaxQuestions {
			break
		}
	}
	minimum := m.rules.MinQuestions
	if minimum < 1 {
		minimum = 1
	}
	if len(playable) < minimum {
		m.failStart(domain.ErrNotEnoughQuestions, r)
		return
	}

	m.questions = playable
	m.index = 0
	m.openQuestion(at, r)
}

// failStart reverts the room to LOBBY without touching any score.
func (m *Machine) failStart(err error, r *Result) {
	m.state = domain.RoomLobby
	m.phase = phaseIdle
	m.index = -1
	m.questions = nil

	reason := domain.ErrSourceUnavailable.Code
	switch domain.CategoryOf(err) {
	case domain.CategoryDependencyFailure, domain.CategoryNotFound:
		reason = domain.CodeOf(err)
	}
	m.emit(r, domain.EventStartFailed, domain.StartFailed{Reason: reason, Message: err.Error()})
	m.emitRoomUpdated(r)
}

func (m *Machine) openQuestion(at time.Time, r *Result) {
	q := m.questions[m.index]
	m.phase = phaseAwaiting
	m.answers = make(map[string]answer)
	m.openedAt = at
	m.deadline = at.Add(m.budget(q))

	m.emit(r, domain.EventQuestion, domain.QuestionPosed{
		Index:    m.index,
		Total:    len(m.questions),
		Prompt:   q.Prompt,
		Options:  append([]string(nil), q.Options...),
		Deadline: m.deadline,
	})
	r.Effects = append(r.Effects, ScheduleDeadline{Index: m.index, At: m.deadline})
}

func (m *Machine) submit(at time.Time, in Submit, r *Result) {
	p, ok := m.players[in.PlayerID]
	if !ok || p.Status != domain.Connected {
		r.Err = domain.ErrPlayerNotFound
		return
	}
	switch {
	case m.state == domain.RoomLobby:
		r.Err = domain.ErrGameNotStarted
		return
	case m.phase != phaseAwaiting:
		r.Err = domain.ErrQuestionClosed
		return
	case at.After(m.deadline):
		r.Err = domain.ErrQuestionClosed
		return
	}
	if _, answered := m.answers[p.ID]; answered {
		r.Err = domain.ErrAlreadyAnswered
		return
	}
	option, ok := m.questions[m.index].Match(in.Answer)
	if !ok {
		r.Err = domain.ErrInvalidAnswer
		return
	}

	m.answers[p.ID] = answer{option: option, at: at}
	m.closeIfAllAnswered(at, r)
}

func (m *Machine) closeIfAllAnswered(at time.Time, r *Result) {
	if m.phase != phaseAwaiting {
		return
	}
	connected := 0
	for _, id := range m.order {
		p := m.players[id]
		if p.Status != domain.Connected {
			continue
		}
		connected++
		if _, ok := m.answers[id]; !ok {
			return
		}
	}
	if connected > 0 {
		m.closeQuestion(at, r)
	}
}

// closeQuestion scores every correct answer exactly once and reveals the result.
func (m *Machine) closeQuestion(at time.Time, r *Result) {
	q := m.questions[m.index]
	budget := m.budget(q)
	m.phase = phaseRevealing
	m.deadline = time.Time{}
	r.Effects = append(r.Effects, CancelDeadline{Index: m.index})

	awarded := make(map[string]int)
	for _, id := range m.order {
		a, ok := m.answers[id]
		if !ok {
			continue
		}
		delta := m.rules.Scoring.Delta(q.IsCorrect(a.option), a.at.Sub(m.openedAt), budget)
		if delta > 0 {
			m.players[id].Score += delta
			awarded[id] = delta
		}
	}

	m.emit(r, domain.EventAnswerResult, domain.AnswerResult{
		Index:         m.index,
		CorrectOption: q.CorrectOption,
		Players:       m.scoreboard(),
		Awarded:       awarded,
	})

	if m.rules.RevealDelay > 0 {
		r.Effects = append(r.Effects, ScheduleAdvance{Index: m.index, After: m.rules.RevealDelay})
		return
	}
	m.advance(at, r)
}

func (m *Machine) advance(at time.Time, r *Result) {
	if m.index == len(m.questions)-1 {
		m.finish(at, r)
		return
	}
	m.index++
	m.openQuestion(at, r)
}

func (m *Machine) finish(at time.Time, r *Result) {
	m.state = domain.RoomFinished
	m.phase = phaseIdle
	m.finishedAt = at
	m.emit(r, domain.EventFinished, domain.Finished{Players: m.finalScoreboard()})
}

func (m *Machine) sweep(at time.Time, r *Result) {
	evicted := false
	for _, id := range append([]string(nil), m.order...) {
		p := m.players[id]
		if p.Status == domain.Disconnected && at.Sub(p.DisconnectedAt) >= m.rules.DisconnectGrace {
			m.remove(id)
			evicted = true
		}
	}

	switch {
	case evicted && len(m.order) == 0:
		m.destroy(r)
		return
	case m.state == domain.RoomFinished && at.Sub(m.finishedAt) >= m.rules.FinishedGrace:
		m.destroy(r)
		return
	case !m.emptySince.IsZero() && m.connectedCount() == 0 && at.Sub(m.emptySince) >= m.rules.EmptyRoomGrace:
		m.destroy(r)
		return
	}

	if evicted {
		m.emitRoomUpdated(r)
		m.closeIfAllAnswered(at, r)
	}
}

func (m *Machine) remove(playerID string) {
	delete(m.players, playerID)
	delete(m.answers, playerID)
	for i, id := range m.order {
		if id == playerID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.hostID != playerID {
		return
	}
	m.hostID = m.nextConnected("")
	if m.hostID == "" && len(m.order) > 0 {
		m.hostID = m.order[0]
	}
}

func (m *Machine) destroy(r *Result) {
	if m.phase == phaseAwaiting {
		r.Effects = append(r.Effects, CancelDeadline{Index: m.index})
	}
	m.destroyed = true
	m.phase = phaseIdle
	m.deadline = time.Time{}
	r.Effects = append(r.Effects, Destroy{})
}

func (m *Machine) budget(q domain.Question) time.Duration {
	if q.TimeBudgetSeconds > 0 {
		return time.Duration(q.TimeBudgetSeconds) * time.Second
	}
	return m.rules.DefaultBudget
}

// nextConnected returns the first connected player by join order, skipping exclude.
func (m *Machine) nextConnected(exclude string) string {
	for _, id := range m.order {
		if id != exclude && m.players[id].Status == domain.Connected {
			return id
		}
	}
	return ""
}

func (m *Machine) connectedCount() int {
	n := 0
	for _, p := range m.players {
		if p.Status == domain.Connected {
			n++
		}
	}
	return n
}

func (m *Machine) emit(r *Result, typ domain.EventType, payload any) {
	m.seq++
	r.Events = append(r.Events, domain.Event{Type: typ, RoomID: m.id, Seq: m.seq, Payload: payload})
}

func (m *Machine) emitRoomUpdated(r *Result) {
	m.emit(r, domain.EventRoomUpdated, domain.RoomUpdated{
		State:   m.state,
		Players: m.scoreboard(),
		HostID:  m.hostID,
	})
}

// scoreboard lists every player in join order.
func (m *Machine) scoreboard() []domain.PlayerView {
	views := make([]domain.PlayerView, 0, len(m.order))
	for _, id := range m.order {
		views = append(views, m.players[id].View(m.hostID))
	}
	return views
}

// finalScoreboard sorts by score descending; the stable sort keeps join order for ties.
func (m *Machine) finalScoreboard() []domain.PlayerView {
	views := m.scoreboard()
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Score > views[j].Score
	})
	return views
}

func (m *Machine) snapshot(at time.Time, playerID string) domain.Snapshot {
	snap := domain.Snapshot{
		RoomID:  m.id,
		DeckID:  m.deckID,
		State:   m.state,
		HostID:  m.hostID,
		Players: m.scoreboard(),
	}
	if m.state != domain.RoomInProgress || m.index < 0 {
		return snap
	}
	q := m.questions[m.index]
	view := &domain.QuestionView{
		Index:   m.index,
		Total:   len(m.questions),
		Prompt:  q.Prompt,
		Options: append([]string(nil), q.Options...),
	}
	if m.phase == phaseAwaiting {
		view.Deadline = m.deadline
		if remaining := m.deadline.Sub(at); remaining > 0 {
			view.RemainingMs = remaining.Milliseconds()
		}
	}
	_, view.Answered = m.answers[playerID]
	snap.Question = view
	return snap
}

// State reports the room lifecycle state.
func (m *Machine) State() domain.RoomState { return m.state }

// HostID reports the current host.
func (m *Machine) HostID() string { return m.hostID }

// Index reports the current question index, -1 before the first question.
func (m *Machine) Index() int { return m.index }

// Deadline reports when the current question closes; zero when not awaiting answers.
func (m *Machine) Deadline() time.Time { return m.deadline }

// Destroyed reports whether the room has been torn down.
func (m *Machine) Destroyed() bool { return m.destroyed }

// Players returns the scoreboard in join order.
func (m *Machine) Players() []domain.PlayerView { return m.scoreboard() }

// ConnectedCount reports how many players hold a live connection.
func (m *Machine) ConnectedCount() int { return m.connectedCount() }

// AnswerCount reports how many answers were recorded for the current question.
func (m *Machine) AnswerCount() int { return len(m.answers) }
