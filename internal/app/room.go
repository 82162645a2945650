package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quiz-orchestrator/internal/domain"
	"quiz-orchestrator/internal/logger"
	"quiz-orchestrator/internal/monitor"
)

// QuestionSource loads the ordered questions for a deck.
type QuestionSource interface {
	LoadQuestions(ctx context.Context, deckID string, limit int) ([]domain.Question, error)
}

// RoomDeps are the collaborators shared by every room actor.
type RoomDeps struct {
	Rules   Rules
	Source  QuestionSource
	Clock   Clock
	Logger  *zap.Logger
	Metrics *monitor.Metrics
	// Buffer is the per-member outbound queue length.
	Buffer int
}

type envelope struct {
	at    time.Time
	input Input
	sub   *Subscription
	reply chan Result
}

// Room is the actor owning one room's state. Every input, including timer
// and question-source callbacks, passes through a single inbox and is handled
// by one goroutine in arrival order.
type Room struct {
	id      string
	machine *Machine
	fanout  *Fanout
	deps    RoomDeps
	log     *zap.Logger

	inbox     chan envelope
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	onDestroy func(*Room)

	deadlines map[int]Timer
	advance   Timer
	connected int
}

func newRoom(id string, deps RoomDeps, onDestroy func(*Room)) *Room {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		id:        id,
		machine:   NewMachine(id, deps.Rules, deps.Clock.Now()),
		fanout:    NewFanout(id, deps.Buffer),
		deps:      deps,
		log:       logger.OrNop(deps.Logger).With(zap.String("room_id", id)),
		inbox:     make(chan envelope, 256),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		onDestroy: onDestroy,
		deadlines: make(map[int]Timer),
	}
	deps.Metrics.RoomOpened()
	go r.run()
	r.log.Debug("room created")
	return r
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Done is closed once the room has been destroyed.
func (r *Room) Done() <-chan struct{} { return r.done }

// Join adds or reconnects a player and attaches a subscription for the room's events.
func (r *Room) Join(ctx context.Context, who domain.Identity, deckID string) (domain.Snapshot, *Subscription, error) {
	sub := r.fanout.newSubscription(who.PlayerID)
	res, err := r.call(ctx, envelope{input: Join{Identity: who, DeckID: deckID}, sub: sub})
	if err == nil {
		err = res.Err
	}
	if err != nil {
		sub.Close()
		return domain.Snapshot{}, nil, err
	}
	return *res.Snapshot, sub, nil
}

// Leave marks the player disconnected and stops their subscription.
func (r *Room) Leave(ctx context.Context, playerID string) error {
	return r.do(ctx, envelope{input: Leave{PlayerID: playerID}})
}

// Disconnect reports that the transport connection behind sub went away. It
// is ignored when the player has already reconnected on a newer subscription.
func (r *Room) Disconnect(ctx context.Context, playerID string, sub *Subscription) error {
	return r.do(ctx, envelope{input: Disconnect{PlayerID: playerID}, sub: sub})
}

func (r *Room) Start(ctx context.Context, playerID, deckID string) error {
	return r.do(ctx, envelope{input: Start{PlayerID: playerID, DeckID: deckID}})
}

func (r *Room) Submit(ctx context.Context, playerID, answer string) error {
	return r.do(ctx, envelope{input: Submit{PlayerID: playerID, Answer: answer}})
}

// Snapshot returns the room as seen by playerID.
func (r *Room) Snapshot(ctx context.Context, playerID string) (domain.Snapshot, error) {
	res, err := r.call(ctx, envelope{input: Query{PlayerID: playerID}})
	if err == nil {
		err = res.Err
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	return *res.Snapshot, nil
}

// Sweep asks the room to evict expired players. It does not wait.
func (r *Room) Sweep() {
	go r.inject(r.deps.Clock.Now(), Sweep{})
}

// Close tears the room down without waiting for eviction.
func (r *Room) Close() {
	r.cancel()
}

func (r *Room) do(ctx context.Context, env envelope) error {
	res, err := r.call(ctx, env)
	if err != nil {
		return err
	}
	return res.Err
}

func (r *Room) call(ctx context.Context, env envelope) (Result, error) {
	env.at = r.deps.Clock.Now()
	env.reply = make(chan Result, 1)
	select {
	case r.inbox <- env:
	case <-r.done:
		return Result{}, domain.ErrRoomNotFound
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-env.reply:
		return res, nil
	case <-r.done:
		return Result{}, domain.ErrRoomNotFound
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// inject queues a synthetic input. Dropped if the room is gone.
func (r *Room) inject(at time.Time, in Input) {
	select {
	case r.inbox <- envelope{at: at, input: in}:
	case <-r.done:
	case <-r.ctx.Done():
	}
}

func (r *Room) run() {
	defer r.teardown()
	for {
		select {
		case env := <-r.inbox:
			r.process(env)
			if r.machine.Destroyed() {
				return
			}
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Room) process(env envelope) {
	if d, ok := env.input.(Disconnect); ok && env.sub != nil {
		if !r.fanout.isCurrent(env.sub) {
			env.sub.Close()
			r.reply(env, Result{})
			return
		}
		r.fanout.detach(d.PlayerID)
	}

	res := r.machine.Handle(env.at, env.input)
	if _, ok := env.input.(Join); ok && res.Err == nil && env.sub != nil {
		r.fanout.attach(env.sub)
	}
	r.apply(res)

	code := ""
	if res.Err != nil {
		code = domain.CodeOf(res.Err)
		r.log.Debug("event rejected", zap.String("kind", env.input.kind()), zap.String("code", code))
	}
	r.deps.Metrics.ObserveEvent(env.input.kind(), code, r.deps.Clock.Now().Sub(env.at))
	r.reply(env, res)
}

func (r *Room) reply(env envelope, res Result) {
	if env.reply != nil {
		env.reply <- res
	}
}

// apply carries out a transition: unsubscribes leavers, publishes events, then
// runs the remaining effects. Members dropped for falling behind are
// disconnected within the same turn.
func (r *Room) apply(res Result) {
	for _, eff := range res.Effects {
		if u, ok := eff.(Unsubscribe); ok {
			r.fanout.detach(u.PlayerID)
		}
	}

	dropped := r.fanout.Publish(res.Events)
	for _, ev := range res.Events {
		r.deps.Metrics.Broadcast(string(ev.Type))
		r.logEvent(ev)
	}

	for _, eff := range res.Effects {
		switch e := eff.(type) {
		case LoadQuestions:
			go r.load(e)
		case ScheduleDeadline:
			r.scheduleDeadline(e)
		case CancelDeadline:
			if t, ok := r.deadlines[e.Index]; ok {
				t.Stop()
				delete(r.deadlines, e.Index)
			}
		case ScheduleAdvance:
			index := e.Index
			r.advance = r.deps.Clock.AfterFunc(e.After, func() {
				r.inject(r.deps.Clock.Now(), Advance{Index: index})
			})
		case Unsubscribe, Destroy:
		}
	}

	r.trackConnected()

	for _, playerID := range dropped {
		r.log.Warn("dropping slow subscriber", zap.String("player_id", playerID))
		r.apply(r.machine.Handle(r.deps.Clock.Now(), Disconnect{PlayerID: playerID}))
	}
}

func (r *Room) scheduleDeadline(e ScheduleDeadline) {
	index, at := e.Index, e.At
	r.deadlines[index] = r.deps.Clock.AfterFunc(at.Sub(r.deps.Clock.Now()), func() {
		r.inject(at, DeadlineElapsed{Index: index})
	})
}

// load fetches questions off the actor goroutine. The result is discarded if
// the room is destroyed first.
func (r *Room) load(e LoadQuestions) {
	questions, err := r.deps.Source.LoadQuestions(r.ctx, e.DeckID, e.Limit)
	if err != nil {
		r.log.Warn("question source failed", zap.String("deck_id", e.DeckID), zap.Error(err))
	}
	r.inject(r.deps.Clock.Now(), QuestionsLoaded{Attempt: e.Attempt, Questions: questions, Err: err})
}

func (r *Room) trackConnected() {
	n := r.machine.ConnectedCount()
	r.deps.Metrics.AddConnected(n - r.connected)
	r.connected = n
}

func (r *Room) logEvent(ev domain.Event) {
	switch p := ev.Payload.(type) {
	case domain.QuestionPosed:
		r.log.Info("question opened", zap.Int("index", p.Index), zap.Int("total", p.Total), zap.Time("deadline", p.Deadline))
	case domain.AnswerResult:
		r.log.Info("question closed", zap.Int("index", p.Index), zap.Int("correct", len(p.Awarded)))
	case domain.Finished:
		r.log.Info("quiz finished", zap.Int("players", len(p.Players)))
	case domain.StartFailed:
		r.log.Warn("start failed", zap.String("reason", p.Reason))
	}
}

func (r *Room) teardown() {
	r.cancel()
	for index, t := range r.deadlines {
		t.Stop()
		delete(r.deadlines, index)
	}
	if r.advance != nil {
		r.advance.Stop()
	}
	r.fanout.closeAll()
	r.deps.Metrics.AddConnected(-r.connected)
	r.connected = 0
	r.deps.Metrics.RoomClosed()
	if r.onDestroy != nil {
		r.onDestroy(r)
	}
	close(r.done)
	r.log.Debug("room destroyed")
}
