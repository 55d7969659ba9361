// Package viva issues surprise viva challenges to sessions whose suspicion
// score crossed the tracker thresholds.
package viva

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/tracker"
)

const (
	// QuestionTimeLimit is the per-question answer window in seconds.
	QuestionTimeLimit = 180
	// ChallengeTimeLimit is the overall viva window in seconds.
	ChallengeTimeLimit = 300
	// StoredConfidence is recorded with every generated question.
	StoredConfidence = 0.9

	maxRecentEvents = 5
	maxQuestions    = 2

	defaultWorkers      = 4
	defaultQueueSize    = 64
	defaultResultsSize  = 64
	defaultDrainTimeout = 10 * time.Second

	// DefaultInstructions is sent when no localized text is configured.
	DefaultInstructions = "Please answer these questions about your recent work to verify your understanding."
)

// ErrNoQuestions is returned when generation produced nothing usable.
var ErrNoQuestions = errors.New("no viva questions generated")

// ExamSource loads the exam a session belongs to.
type ExamSource interface {
	GetExam(ctx context.Context, examID string) (model.Exam, error)
}

// QuestionGenerator produces verification questions from the exam and the
// session's recent suspicious activity.
type QuestionGenerator interface {
	GenerateVivaQuestions(ctx context.Context, exam model.Exam, recent []model.ScoredEvent) ([]model.VivaQuestion, error)
}

// QuestionStore persists generated questions and returns them with ids set.
type QuestionStore interface {
	SaveVivaQuestions(ctx context.Context, sessionID string, qs []model.VivaQuestion) ([]model.VivaQuestion, error)
}

// Publisher delivers a message to a live session.
type Publisher interface {
	PushToSession(sessionID string, msg any) error
}

// Request asks for a viva on one session.
type Request struct {
	SessionID    string
	ExamID       string
	RecentEvents []model.ScoredEvent
}

// Outcome is the end state of one viva attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeDropped   Outcome = "dropped"
)

// Result reports a finished attempt.
type Result struct {
	SessionID string
	Outcome   Outcome
	Questions int
	Err       error
}

// ChallengeQuestion is one question as pushed to the student.
type ChallengeQuestion struct {
	ID             int64  `json:"id"`
	Question       string `json:"question"`
	ExpectedAnswer string `json:"expected_answer"`
	TimeLimit      int    `json:"time_limit"`
}

// Challenge is the surprise_viva message.
type Challenge struct {
	Type         string              `json:"type"`
	Questions    []ChallengeQuestion `json:"questions"`
	TimeLimit    int                 `json:"time_limit"`
	Instructions string              `json:"instructions"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the number of background workers. Default: 4.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets the job buffer capacity. Default: 64.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithInstructions sets the instructions text of pushed challenges.
func WithInstructions(s string) Option {
	return func(o *Orchestrator) {
		if s != "" {
			o.instructions = s
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued jobs.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.drainTimeout = d }
}

// WithObserver registers a callback invoked for every finished attempt.
func WithObserver(f func(Result)) Option {
	return func(o *Orchestrator) { o.observe = f }
}

// Orchestrator claims, generates, stores and delivers viva challenges. Jobs
// submitted with Submit run on background workers so the live connection
// never waits on the LLM.
type Orchestrator struct {
	tracker tracker.Tracker
	exams   ExamSource
	gen     QuestionGenerator
	store   QuestionStore
	pub     Publisher

	workers      int
	queueSize    int
	instructions string
	drainTimeout time.Duration
	observe      func(Result)

	mu        sync.RWMutex
	closed    bool
	drained   bool
	jobs      chan Request
	results   chan Result
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates an Orchestrator and starts its workers.
func New(t tracker.Tracker, exams ExamSource, gen QuestionGenerator, store QuestionStore, pub Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tracker:      t,
		exams:        exams,
		gen:          gen,
		store:        store,
		pub:          pub,
		workers:      defaultWorkers,
		queueSize:    defaultQueueSize,
		instructions: DefaultInstructions,
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.jobs = make(chan Request, o.queueSize)
	o.results = make(chan Result, defaultResultsSize)
	for range o.workers {
		o.wg.Add(1)
		go o.work()
	}
	return o
}

// Trigger claims the viva and runs it to completion on the calling goroutine.
// It reports whether a challenge was delivered.
func (o *Orchestrator) Trigger(ctx context.Context, req Request) bool {
	ok, err := o.tracker.BeginViva(ctx, req.SessionID)
	if err != nil {
		slog.Error("claim viva", "session_id", req.SessionID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	return o.run(ctx, req).Outcome == OutcomeDelivered
}

// Submit claims the viva and queues it for a background worker. It returns
// false when the viva is not due, already claimed or the queue is full.
func (o *Orchestrator) Submit(ctx context.Context, req Request) bool {
	ok, err := o.tracker.BeginViva(ctx, req.SessionID)
	if err != nil {
		slog.Error("claim viva", "session_id", req.SessionID, "error", err)
		return false
	}
	if !ok {
		return false
	}

	o.mu.RLock()
	queued := false
	if !o.closed {
		select {
		case o.jobs <- req:
			queued = true
		default:
		}
	}
	o.mu.RUnlock()

	if !queued {
		slog.Warn("viva queue unavailable, dropping", "session_id", req.SessionID)
		o.abort(req.SessionID)
		o.report(Result{SessionID: req.SessionID, Outcome: OutcomeDropped})
		return false
	}
	slog.Info("viva queued", "session_id", req.SessionID)
	return true
}

// Results delivers finished attempts. Sends never block: results are lost
// when nobody reads them.
func (o *Orchestrator) Results() <-chan Result {
	return o.results
}

// Close stops accepting jobs and waits for queued ones, up to the drain
// timeout.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.jobs)
		o.mu.Unlock()

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			o.mu.Lock()
			o.drained = true
			close(o.results)
			o.mu.Unlock()
		case <-time.After(o.drainTimeout):
			slog.Warn("viva drain timed out")
		}
	})
}

func (o *Orchestrator) work() {
	defer o.wg.Done()
	for req := range o.jobs {
		o.run(context.Background(), req)
	}
}

// run executes a claimed viva. Any failure releases the claim.
func (o *Orchestrator) run(ctx context.Context, req Request) (res Result) {
	res = Result{SessionID: req.SessionID}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("viva panicked", "session_id", req.SessionID, "panic", r)
			o.abort(req.SessionID)
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("viva panicked: %v", r)
		}
		o.report(res)
	}()

	n, err := o.deliver(ctx, req)
	if err != nil {
		slog.Error("viva failed", "session_id", req.SessionID, "exam_id", req.ExamID, "error", err)
		o.abort(req.SessionID)
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	slog.Info("viva delivered", "session_id", req.SessionID, "questions", n)
	res.Outcome = OutcomeDelivered
	res.Questions = n
	return res
}

func (o *Orchestrator) deliver(ctx context.Context, req Request) (int, error) {
	exam, err := o.exams.GetExam(ctx, req.ExamID)
	if err != nil {
		return 0, fmt.Errorf("load exam: %w", err)
	}

	qs, err := o.gen.GenerateVivaQuestions(ctx, exam, recentSuspicious(req.RecentEvents))
	if err != nil {
		return 0, fmt.Errorf("generate questions: %w", err)
	}
	qs = usable(qs)
	if len(qs) == 0 {
		return 0, ErrNoQuestions
	}
	if len(qs) > maxQuestions {
		qs = qs[:maxQuestions]
	}
	for i := range qs {
		qs[i].SessionID = req.SessionID
		qs[i].Confidence = StoredConfidence
	}

	saved, err := o.store.SaveVivaQuestions(ctx, req.SessionID, qs)
	if err != nil {
		return 0, fmt.Errorf("save questions: %w", err)
	}

	if err := o.pub.PushToSession(req.SessionID, o.challenge(saved)); err != nil {
		return 0, fmt.Errorf("push challenge: %w", err)
	}
	if err := o.tracker.ConfirmViva(ctx, req.SessionID); err != nil {
		return 0, fmt.Errorf("confirm viva: %w", err)
	}
	return len(saved), nil
}

func (o *Orchestrator) challenge(qs []model.VivaQuestion) Challenge {
	c := Challenge{
		Type:         "surprise_viva",
		Questions:    make([]ChallengeQuestion, 0, len(qs)),
		TimeLimit:    ChallengeTimeLimit,
		Instructions: o.instructions,
	}
	for _, q := range qs {
		c.Questions = append(c.Questions, ChallengeQuestion{
			ID:             q.ID,
			Question:       q.Question,
			ExpectedAnswer: q.ExpectedAnswer,
			TimeLimit:      QuestionTimeLimit,
		})
	}
	return c
}

func (o *Orchestrator) abort(sessionID string) {
	if err := o.tracker.AbortViva(context.Background(), sessionID); err != nil {
		slog.Warn("release viva claim", "session_id", sessionID, "error", err)
	}
}

func (o *Orchestrator) report(r Result) {
	if o.observe != nil {
		o.observe(r)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.drained {
		return
	}
	select {
	case o.results <- r:
	default:
	}
}

// recentSuspicious picks the latest flagged events, falling back to the
// latest events of any kind when none are flagged.
func recentSuspicious(events []model.ScoredEvent) []model.ScoredEvent {
	var flagged []model.ScoredEvent
	for _, e := range events {
		if e.IsFlagged {
			flagged = append(flagged, e)
		}
	}
	if len(flagged) == 0 {
		flagged = events
	}
	if len(flagged) > maxRecentEvents {
		flagged = flagged[len(flagged)-maxRecentEvents:]
	}
	return flagged
}

func usable(qs []model.VivaQuestion) []model.VivaQuestion {
	out := qs[:0:0]
	for _, q := range qs {
		if q.Question != "" {
			out = append(out, q)
		}
	}
	return out
}
