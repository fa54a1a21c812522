package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bassmang/kiongozi/internal/events"
	"github.com/bassmang/kiongozi/internal/llm"
	"github.com/bassmang/kiongozi/internal/team"
)

// DefaultMaxTurns is the turn budget when none is configured.
const DefaultMaxTurns = 30

// orchestratorName labels the orchestrator's own messages in transcripts.
const orchestratorName = "Orchestrator"

// Config holds per-orchestrator tunables.
type Config struct {
	MaxTurns int
}

func (c Config) maxTurns() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return DefaultMaxTurns
}

// Orchestrator drives the control loop. Per-run state lives on a session,
// but worker histories live on the shared team, so runs over one
// orchestrator are serialized.
type Orchestrator struct {
	oracle  Oracle
	team    *team.Team
	logger  *slog.Logger
	store   RunStore
	broker  *events.Broker
	tracer  trace.Tracer
	metrics *Metrics
	cfg     Config

	runMu sync.Mutex // One run at a time over the shared team.
}

// New builds an orchestrator over an oracle and a team.
func New(oracle Oracle, tm *team.Team, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		oracle: oracle,
		team:   tm,
		logger: logger,
		tracer: trace.NewNoopTracerProvider().Tracer(""),
	}
}

// WithStore attaches a persistence layer for checkpoints and transcripts.
func (o *Orchestrator) WithStore(store RunStore) *Orchestrator {
	o.store = store
	return o
}

// WithBroker attaches an event broker for live progress streaming.
func (o *Orchestrator) WithBroker(broker *events.Broker) *Orchestrator {
	o.broker = broker
	return o
}

// WithTracer attaches a tracer for per-run spans.
func (o *Orchestrator) WithTracer(tracer trace.Tracer) *Orchestrator {
	if tracer != nil {
		o.tracer = tracer
	}
	return o
}

// WithMetrics attaches Prometheus instrumentation.
func (o *Orchestrator) WithMetrics(m *Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithConfig overrides the default tunables.
func (o *Orchestrator) WithConfig(cfg Config) *Orchestrator {
	o.cfg = cfg
	return o
}

// session carries all mutable state for one run.
type session struct {
	runID    uuid.UUID
	task     string
	roster   string
	names    string
	nameList []string
	maxTurns int

	facts string
	plan  string

	// transcript is the orchestrator's own conversation with the oracle.
	// It is rebuilt from the briefing at the start of every round.
	transcript []llm.Message

	checkpoints  []Checkpoint
	totalTurns   int
	timesStalled int
	stalledCount int // Per-round; timesStalled survives across rounds.
}

// turnAction is what a completed turn tells the round loop to do next.
type turnAction int

const (
	// turnContinue proceeds to the next turn in the same round.
	turnContinue turnAction = iota
	// turnRestartRound abandons the round: workers reset, transcript
	// rebuilt, no checkpoint recorded for the failed turn.
	turnRestartRound
	// turnTerminate ends the run with the result carried alongside.
	turnTerminate
)

// Run executes one task to completion. It returns a Result for any
// self-terminated run, including turn-budget exhaustion; an error means
// the run itself failed (oracle transport failure, worker failure, or
// context cancellation).
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID, task string, maxTurns int) (*Result, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if maxTurns <= 0 {
		maxTurns = o.cfg.maxTurns()
	}
	s := &session{
		runID:    runID,
		task:     task,
		roster:   o.team.Roster(),
		names:    o.team.Names(),
		nameList: make([]string, 0, o.team.Size()),
		maxTurns: maxTurns,
	}
	for _, w := range o.team.Workers() {
		s.nameList = append(s.nameList, w.Name())
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("run.id", runID.String()),
			attribute.Int("run.max_turns", maxTurns),
		))
	defer span.End()

	if err := o.bootstrap(ctx, s); err != nil {
		return nil, fmt.Errorf("bootstrap run %s: %w", runID, err)
	}

	for s.totalTurns < s.maxTurns {
		if err := o.startRound(ctx, s); err != nil {
			return nil, err
		}

	inner:
		for s.totalTurns < s.maxTurns {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			action, res, err := o.turn(ctx, s)
			if err != nil {
				return nil, err
			}
			switch action {
			case turnTerminate:
				return res, nil
			case turnRestartRound:
				break inner
			}
		}
	}

	o.logger.Info("turn budget exhausted", "run_id", s.runID, "turns", s.totalTurns)
	return o.result(s, OutcomeTurnBudgetExhausted), nil
}

func (o *Orchestrator) result(s *session, outcome Outcome) *Result {
	return &Result{
		Outcome:      outcome,
		Signal:       TerminateSignal,
		Turns:        s.totalTurns,
		TimesStalled: s.timesStalled,
		Plan:         s.plan,
		Facts:        s.facts,
	}
}

// bootstrap runs the closed-book fact survey and drafts the initial plan.
// Oracle failure here is fatal to the run.
func (o *Orchestrator) bootstrap(ctx context.Context, s *session) error {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: factSurveyPrompt(s.task)},
	}
	facts, err := o.complete(ctx, msgs, "survey")
	if err != nil {
		return fmt.Errorf("fact survey: %w", err)
	}
	s.facts = facts

	msgs = append(msgs,
		llm.Message{Role: llm.RoleAssistant, Name: orchestratorName, Content: facts},
		llm.Message{Role: llm.RoleUser, Content: draftPlanPrompt(s.roster)},
	)
	plan, err := o.complete(ctx, msgs, "plan")
	if err != nil {
		return fmt.Errorf("draft plan: %w", err)
	}
	s.plan = plan

	o.logger.Info("run bootstrapped", "run_id", s.runID)
	o.publish(events.Event{Type: events.PlanUpdated, RunID: s.runID.String(), Detail: s.plan})
	return nil
}

// startRound resets every worker and the per-round stall counter, rebuilds
// the transcript from the briefing, and delivers the briefing to the whole
// team.
func (o *Orchestrator) startRound(ctx context.Context, s *session) error {
	for _, w := range o.team.Workers() {
		if err := w.Reset(ctx); err != nil {
			return fmt.Errorf("reset worker %s: %w", w.Name(), err)
		}
	}
	s.stalledCount = 0

	briefing := briefingMessage(s.task, s.roster, s.facts, s.plan)
	s.transcript = []llm.Message{
		{Role: llm.RoleAssistant, Name: orchestratorName, Content: briefing},
	}
	o.broadcast(ctx, s, briefing, "")
	o.record(ctx, s, "assistant", orchestratorName, briefing, false)

	o.logger.Debug("round started", "run_id", s.runID, "turn", s.totalTurns)
	o.publish(events.Event{Type: events.RoundStarted, RunID: s.runID.String(), Turn: s.totalTurns})
	return nil
}

// turn runs one iteration of the inner loop: assess, checkpoint, detect
// stagnation, then either terminate, escalate, or delegate.
func (o *Orchestrator) turn(ctx context.Context, s *session) (turnAction, *Result, error) {
	s.totalTurns++
	if o.metrics != nil {
		o.metrics.TurnsTotal.Inc()
	}

	prev := s.transcript[len(s.transcript)-1].Content
	executor, hasExecutor := o.team.FirstExecutor()
	fastPath := hasExecutableCode(prev) && hasExecutor

	var assessment *TurnAssessment
	var err error
	if fastPath {
		assessment, err = o.assessFast(ctx, s, executor.Name())
	} else {
		assessment, err = o.assessNormal(ctx, s)
	}
	if err != nil {
		if IsMalformedResponse(err) {
			return turnRestartRound, nil, nil
		}
		return turnContinue, nil, err
	}

	s.checkpoints = append(s.checkpoints, Checkpoint{
		Plan:        s.plan,
		Evaluation:  assessment.CurrentEvaluation.Answer,
		Instruction: assessment.InstructionOrQuestion.Answer,
	})
	o.saveCheckpoint(ctx, s, s.checkpoints[len(s.checkpoints)-1])
	o.publish(events.Event{
		Type:       events.TurnDecided,
		RunID:      s.runID.String(),
		Turn:       s.totalTurns,
		Speaker:    assessment.NextSpeaker.Answer,
		Evaluation: assessment.CurrentEvaluation.Answer,
		Detail:     assessment.InstructionOrQuestion.Answer,
	})

	if assessment.IsRequestSatisfied.Answer {
		o.logger.Info("request satisfied", "run_id", s.runID, "turn", s.totalTurns,
			"reason", assessment.IsRequestSatisfied.Reason)
		return turnTerminate, o.result(s, OutcomeSatisfied), nil
	}

	if assessment.IsProgressBeingMade.Answer {
		if s.stalledCount > 0 {
			s.stalledCount--
		}
	} else {
		s.stalledCount++
		o.logger.Warn("no forward progress", "run_id", s.runID, "turn", s.totalTurns,
			"stalled_count", s.stalledCount, "reason", assessment.IsProgressBeingMade.Reason)
	}

	if o.stagnant(s) {
		s.timesStalled++
		if o.metrics != nil {
			o.metrics.StagnationEventsTotal.Inc()
		}
		o.publish(events.Event{Type: events.Stalled, RunID: s.runID.String(), Turn: s.totalTurns})
		o.logger.Warn("stagnation detected", "run_id", s.runID, "turn", s.totalTurns,
			"times_stalled", s.timesStalled)

		if s.timesStalled >= 2 {
			return o.escalate(ctx, s)
		}
	}

	if err := o.delegate(ctx, s, assessment); err != nil {
		return turnContinue, nil, err
	}
	return turnContinue, nil, nil
}

// stagnant reports whether the last three checkpoint evaluations are
// non-increasing.
func (o *Orchestrator) stagnant(s *session) bool {
	n := len(s.checkpoints)
	if n < 3 {
		return false
	}
	last := s.checkpoints[n-3:]
	return last[0].Evaluation >= last[1].Evaluation && last[1].Evaluation >= last[2].Evaluation
}

// assessFast issues the reduced structured query and forces routing to the
// first execution-capable worker.
func (o *Orchestrator) assessFast(ctx context.Context, s *session, executorName string) (*TurnAssessment, error) {
	raw, err := o.completeJSONAt(ctx, s, fastStepPrompt(s.task))
	if err != nil {
		return nil, err
	}
	assessment, err := parseTurnAssessment(raw, false, nil)
	if err != nil {
		o.logger.Warn("discarding unparsable assessment", "run_id", s.runID,
			"turn", s.totalTurns, "error", err)
		return nil, err
	}
	assessment.NextSpeaker = StringJudgment{Reason: executeRoutingReason, Answer: executorName}
	assessment.InstructionOrQuestion = StringJudgment{Reason: executeRoutingReason, Answer: executeInstruction}
	return assessment, nil
}

// assessNormal issues the full structured query, then pits a freshly
// revised plan against the current one and keeps whichever assessment
// scores higher. The winning plan is adopted verbatim.
func (o *Orchestrator) assessNormal(ctx context.Context, s *session) (*TurnAssessment, error) {
	prompt := stepPrompt(s.task, s.roster, s.names)

	raw, err := o.completeJSONAt(ctx, s, prompt)
	if err != nil {
		return nil, err
	}
	assessment, err := parseTurnAssessment(raw, true, s.nameList)
	if err != nil {
		o.logger.Warn("discarding unparsable assessment", "run_id", s.runID,
			"turn", s.totalTurns, "error", err)
		return nil, err
	}

	rawJSON, err := json.MarshalIndent(assessment, "", "    ")
	if err != nil {
		return nil, err
	}
	newPlan, err := o.completeAt(ctx, s,
		revisePlanPrompt(assessment.CurrentEvaluation.Answer, string(rawJSON), s.plan, s.roster), "revise_plan")
	if err != nil {
		return nil, err
	}

	// The candidate goes to the workers, not to our own transcript: the
	// rematch below must weigh it only through their eyes.
	o.broadcast(ctx, s, candidatePlanBroadcast(newPlan), "")

	raw2, err := o.completeJSONAt(ctx, s, prompt)
	if err != nil {
		return nil, err
	}
	rematch, err := parseTurnAssessment(raw2, true, s.nameList)
	if err != nil {
		o.logger.Warn("discarding unparsable rematch assessment", "run_id", s.runID,
			"turn", s.totalTurns, "error", err)
		return nil, err
	}

	if rematch.CurrentEvaluation.Answer > assessment.CurrentEvaluation.Answer {
		assessment = rematch
		s.plan = newPlan
		if o.metrics != nil {
			o.metrics.ReplansTotal.Inc()
		}
		o.publish(events.Event{Type: events.PlanUpdated, RunID: s.runID.String(),
			Turn: s.totalTurns, Detail: s.plan})
		o.logger.Info("revised plan adopted", "run_id", s.runID, "turn", s.totalTurns,
			"evaluation", rematch.CurrentEvaluation.Answer)
	}
	return assessment, nil
}

// escalate runs the stall sequence: try an educated guess, otherwise
// rewrite the fact sheet, re-plan from the full checkpoint history, and
// restart the round with a cleared checkpoint log.
func (o *Orchestrator) escalate(ctx context.Context, s *session) (turnAction, *Result, error) {
	raw, err := o.completeJSONAt(ctx, s, educatedGuessPrompt(s.facts))
	if err != nil {
		return turnContinue, nil, err
	}
	guess, err := parseGuessAssessment(raw)
	if err != nil {
		o.logger.Warn("discarding unparsable guess assessment", "run_id", s.runID,
			"turn", s.totalTurns, "error", err)
		return turnRestartRound, nil, nil
	}
	if guess.HasEducatedGuesses.Answer {
		o.logger.Info("terminating on educated guess", "run_id", s.runID,
			"turn", s.totalTurns, "reason", guess.HasEducatedGuesses.Reason)
		return turnTerminate, o.result(s, OutcomeEducatedGuess), nil
	}

	// No guess available. Fold what we learned into the fact sheet; the
	// rewrite request and its answer stay on the transcript so the re-plan
	// below sees them.
	s.transcript = append(s.transcript, llm.Message{Role: llm.RoleUser, Content: rewriteFactsPrompt(s.facts)})
	facts, err := o.complete(ctx, s.transcript, "rewrite_facts")
	if err != nil {
		return turnContinue, nil, err
	}
	s.facts = facts
	s.transcript = append(s.transcript, llm.Message{Role: llm.RoleAssistant, Name: orchestratorName, Content: facts})

	s.transcript = append(s.transcript, llm.Message{Role: llm.RoleUser, Content: replanFromHistoryPrompt(s.checkpoints, s.roster)})
	plan, err := o.complete(ctx, s.transcript, "replan")
	if err != nil {
		return turnContinue, nil, err
	}
	s.plan = plan
	s.checkpoints = s.checkpoints[:0]

	if o.metrics != nil {
		o.metrics.ReplansTotal.Inc()
	}
	o.publish(events.Event{Type: events.Replanned, RunID: s.runID.String(),
		Turn: s.totalTurns, Detail: s.plan})
	o.logger.Info("re-planned from history", "run_id", s.runID, "turn", s.totalTurns)
	return turnRestartRound, nil, nil
}

// delegate hands the instruction to the chosen worker and circulates the
// reply. A worker failing to reply is fatal to the run.
func (o *Orchestrator) delegate(ctx context.Context, s *session, assessment *TurnAssessment) error {
	speaker := assessment.NextSpeaker.Answer
	instruction := assessment.InstructionOrQuestion.Answer

	o.broadcast(ctx, s, instruction, speaker)
	s.transcript = append(s.transcript, llm.Message{Role: llm.RoleAssistant, Name: orchestratorName, Content: instruction})
	o.record(ctx, s, "assistant", orchestratorName, instruction, true)
	o.publish(events.Event{Type: events.Delegated, RunID: s.runID.String(),
		Turn: s.totalTurns, Speaker: speaker, Detail: instruction})

	worker, ok := o.team.Lookup(speaker)
	if !ok {
		// parseTurnAssessment validated the name; reaching here means the
		// team changed mid-run.
		return fmt.Errorf("worker %q disappeared from the team", speaker)
	}
	reply, err := worker.Reply(ctx)
	if err != nil {
		return fmt.Errorf("worker %s reply: %w", speaker, err)
	}
	s.transcript = append(s.transcript, llm.Message{Role: llm.RoleUser, Name: speaker, Content: reply})
	o.record(ctx, s, "user", speaker, reply, true)
	o.publish(events.Event{Type: events.WorkerReply, RunID: s.runID.String(),
		Turn: s.totalTurns, Speaker: speaker, Detail: reply})

	// The replier recorded its own reply when generating it; everyone else
	// hears it silently.
	for _, w := range o.team.Workers() {
		if w.Name() == speaker {
			continue
		}
		if err := w.Receive(ctx, reply, false); err != nil {
			o.logger.Warn("worker missed reply broadcast", "run_id", s.runID,
				"worker", w.Name(), "error", err)
		}
	}
	return nil
}

// broadcast delivers a message to every worker. outLoud names the one
// worker addressed visibly; everyone else receives silently. Delivery
// failures are logged and skipped.
func (o *Orchestrator) broadcast(ctx context.Context, s *session, msg, outLoud string) {
	for _, w := range o.team.Workers() {
		if err := w.Receive(ctx, msg, w.Name() == outLoud); err != nil {
			o.logger.Warn("worker missed broadcast", "run_id", s.runID,
				"worker", w.Name(), "error", err)
		}
	}
}

// complete sends a free-text oracle request.
func (o *Orchestrator) complete(ctx context.Context, msgs []llm.Message, kind string) (string, error) {
	resp, err := o.oracle.Complete(ctx, msgs)
	o.countOracle(kind, err)
	return resp, err
}

// completeAt appends a temporary user prompt to the session transcript,
// completes, and pops the prompt.
func (o *Orchestrator) completeAt(ctx context.Context, s *session, prompt, kind string) (string, error) {
	msgs := append(s.transcript, llm.Message{Role: llm.RoleUser, Content: prompt})
	return o.complete(ctx, msgs, kind)
}

// completeJSONAt is completeAt in JSON mode.
func (o *Orchestrator) completeJSONAt(ctx context.Context, s *session, prompt string) (string, error) {
	msgs := append(s.transcript, llm.Message{Role: llm.RoleUser, Content: prompt})
	resp, err := o.oracle.CompleteJSON(ctx, msgs)
	o.countOracle("assessment", err)
	return resp, err
}

func (o *Orchestrator) countOracle(kind string, err error) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.OracleRequestsTotal.WithLabelValues(kind, status).Inc()
}

func (o *Orchestrator) publish(ev events.Event) {
	o.broker.Publish(ev)
}

// record persists a transcript entry when a store is attached. Persistence
// failures never fail the run.
func (o *Orchestrator) record(ctx context.Context, s *session, role, speaker, content string, visible bool) {
	if o.store == nil {
		return
	}
	rec := &MessageRecord{
		ID:        uuid.New(),
		RunID:     s.runID,
		Role:      role,
		Speaker:   speaker,
		Content:   content,
		Visible:   visible,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.SaveMessage(ctx, rec); err != nil {
		o.logger.Warn("save message", "run_id", s.runID, "error", err)
	}
}

// saveCheckpoint persists the audit form of a checkpoint. The persisted
// trail is append-only even though the in-session log clears on re-plan.
func (o *Orchestrator) saveCheckpoint(ctx context.Context, s *session, cp Checkpoint) {
	if o.store == nil {
		return
	}
	rec := &CheckpointRecord{
		ID:          uuid.New(),
		RunID:       s.runID,
		Turn:        s.totalTurns,
		Plan:        cp.Plan,
		Evaluation:  cp.Evaluation,
		Instruction: cp.Instruction,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.SaveCheckpoint(ctx, rec); err != nil {
		o.logger.Warn("save checkpoint", "run_id", s.runID, "error", err)
	}
}
