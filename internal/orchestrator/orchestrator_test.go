package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bassmang/kiongozi/internal/events"
	"github.com/bassmang/kiongozi/internal/llm"
	"github.com/bassmang/kiongozi/internal/team"
)

// --- Test doubles ---

var errTransport = errors.New("oracle unreachable")

type oracleCall struct {
	json   bool
	prompt string // Content of the last message in the request.
}

// scriptedOracle returns canned responses in order. Once the script is
// exhausted it returns errTransport.
type scriptedOracle struct {
	mu        sync.Mutex
	responses []string
	calls     []oracleCall
}

func (o *scriptedOracle) pop(json bool, msgs []llm.Message) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, oracleCall{json: json, prompt: msgs[len(msgs)-1].Content})
	if len(o.responses) == 0 {
		return "", errTransport
	}
	resp := o.responses[0]
	o.responses = o.responses[1:]
	return resp, nil
}

func (o *scriptedOracle) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	return o.pop(false, msgs)
}

func (o *scriptedOracle) CompleteJSON(_ context.Context, msgs []llm.Message) (string, error) {
	return o.pop(true, msgs)
}

type workerMsg struct {
	content string
	visible bool
}

// scriptWorker records every delivery and replies from a canned list.
type scriptWorker struct {
	mu       sync.Mutex
	name     string
	exec     bool
	replies  []string
	received []workerMsg
	resets   int
}

func (w *scriptWorker) Name() string           { return w.name }
func (w *scriptWorker) Description() string    { return w.name + " does things" }
func (w *scriptWorker) ExecutionCapable() bool { return w.exec }

func (w *scriptWorker) Reset(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resets++
	return nil
}

func (w *scriptWorker) Receive(_ context.Context, msg string, visible bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.received = append(w.received, workerMsg{content: msg, visible: visible})
	return nil
}

func (w *scriptWorker) Reply(context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.replies) == 0 {
		return w.name + ": done", nil
	}
	reply := w.replies[0]
	w.replies = w.replies[1:]
	return reply, nil
}

func (w *scriptWorker) find(substr string) (workerMsg, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.received {
		if strings.Contains(m.content, substr) {
			return m, true
		}
	}
	return workerMsg{}, false
}

var _ team.Worker = (*scriptWorker)(nil)

func assessJSON(satisfied, progress bool, eval int, speaker, instruction string) string {
	return fmt.Sprintf(`{
		"is_request_satisfied": {"reason": "r", "answer": %t},
		"is_progress_being_made": {"reason": "r", "answer": %t},
		"current_evaluation": {"reason": "r", "answer": %d},
		"next_speaker": {"reason": "r", "answer": %q},
		"instruction_or_question": {"reason": "r", "answer": %q}
	}`, satisfied, progress, eval, speaker, instruction)
}

func fastJSON(satisfied, progress bool, eval int) string {
	return fmt.Sprintf(`{
		"is_request_satisfied": {"reason": "r", "answer": %t},
		"is_progress_being_made": {"reason": "r", "answer": %t},
		"current_evaluation": {"reason": "r", "answer": %d}
	}`, satisfied, progress, eval)
}

func guessJSON(answer bool) string {
	return fmt.Sprintf(`{"has_educated_guesses": {"reason": "r", "answer": %t}}`, answer)
}

func newTestOrchestrator(t *testing.T, oracle Oracle, workers ...team.Worker) *Orchestrator {
	t.Helper()
	tm, err := team.New(workers...)
	if err != nil {
		t.Fatalf("team.New: %v", err)
	}
	return New(oracle, tm, nil)
}

// --- Control loop ---

func TestRun_SatisfiedFirstTurn(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{responses: []string{
		"THE FACTS",
		"THE PLAN",
		assessJSON(true, true, 90, "Alice", "wrap it up"),
		"CANDIDATE PLAN",
		assessJSON(true, true, 80, "Alice", "wrap it up"),
	}}
	o := newTestOrchestrator(t, oracle, alice)

	res, err := o.Run(context.Background(), uuid.New(), "what is 6*7?", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeSatisfied {
		t.Errorf("outcome = %s, want satisfied", res.Outcome)
	}
	if !res.Outcome.Success() {
		t.Error("satisfied outcome must be a success")
	}
	if res.Signal != TerminateSignal {
		t.Errorf("signal = %q, want %q", res.Signal, TerminateSignal)
	}
	if res.Turns != 1 {
		t.Errorf("turns = %d, want 1", res.Turns)
	}
	// The rematch scored lower, so the original plan stays in force.
	if res.Plan != "THE PLAN" {
		t.Errorf("plan = %q, want THE PLAN", res.Plan)
	}
	if res.Facts != "THE FACTS" {
		t.Errorf("facts = %q, want THE FACTS", res.Facts)
	}

	if alice.resets != 1 {
		t.Errorf("resets = %d, want 1", alice.resets)
	}
	briefing, ok := alice.find("THE FACTS")
	if !ok {
		t.Fatal("worker never received the briefing")
	}
	if briefing.visible {
		t.Error("briefing must be delivered silently")
	}
	if _, ok := alice.find("New Updated Plan: \nCANDIDATE PLAN"); !ok {
		t.Error("worker never received the candidate plan broadcast")
	}

	// Structured queries in JSON mode, plan revision in free text.
	if !oracle.calls[2].json || oracle.calls[3].json || !oracle.calls[4].json {
		t.Errorf("unexpected oracle modes: %+v", oracle.calls[2:])
	}
}

func TestRun_CodeFastPath(t *testing.T) {
	surfer := &scriptWorker{name: "Surfer"}
	runner := &scriptWorker{name: "Runner", exec: true, replies: []string{"42"}}
	oracle := &scriptedOracle{responses: []string{
		"facts",
		"- run the script\n```python\nprint(6*7)\n```",
		fastJSON(false, true, 40),
		assessJSON(true, true, 95, "Surfer", "report the answer"),
		"cand",
		assessJSON(true, true, 60, "Surfer", "report the answer"),
	}}
	o := newTestOrchestrator(t, oracle, surfer, runner)

	res, err := o.Run(context.Background(), uuid.New(), "compute 6*7", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeSatisfied {
		t.Errorf("outcome = %s, want satisfied", res.Outcome)
	}
	if res.Turns != 2 {
		t.Errorf("turns = %d, want 2", res.Turns)
	}

	// The fast path routes to the first execution-capable worker out loud.
	instr, ok := runner.find(executeInstruction)
	if !ok {
		t.Fatal("executor never received the execute instruction")
	}
	if !instr.visible {
		t.Error("execute instruction must be addressed out loud")
	}
	if instr, ok := surfer.find(executeInstruction); !ok || instr.visible {
		t.Errorf("bystander delivery: ok=%v visible=%v, want silent copy", ok, instr.visible)
	}

	// The reply circulates to everyone except the replier.
	if reply, ok := surfer.find("42"); !ok || reply.visible {
		t.Errorf("reply delivery to bystander: ok=%v visible=%v, want silent copy", ok, reply.visible)
	}
	if _, ok := runner.find("42"); ok {
		t.Error("replier must not receive its own reply")
	}

	// The fast turn consumed exactly one oracle call.
	if !oracle.calls[2].json || !strings.Contains(oracle.calls[2].prompt, "compute 6*7") {
		t.Errorf("unexpected fast-path call: %+v", oracle.calls[2])
	}
	if strings.Contains(oracle.calls[2].prompt, "Who should speak next?") {
		t.Error("fast-path prompt must not ask for routing")
	}
}

func TestRun_CompetingPlanAdopted(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{responses: []string{
		"facts",
		"OLD PLAN",
		assessJSON(false, true, 50, "Alice", "dig deeper"),
		"NEW PLAN",
		assessJSON(true, true, 70, "Alice", "dig deeper"),
	}}
	o := newTestOrchestrator(t, oracle, alice)

	res, err := o.Run(context.Background(), uuid.New(), "task", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeSatisfied {
		t.Errorf("outcome = %s, want satisfied", res.Outcome)
	}
	// The rematch scored higher: its assessment and the candidate plan win,
	// verbatim.
	if res.Plan != "NEW PLAN" {
		t.Errorf("plan = %q, want NEW PLAN", res.Plan)
	}
}

func TestRun_StagnationEducatedGuess(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	responses := []string{"facts", "plan"}
	for i := 0; i < 4; i++ {
		responses = append(responses,
			assessJSON(false, true, 50, "Alice", "poke around"),
			"cand",
			assessJSON(false, true, 40, "Alice", "poke around"),
		)
	}
	responses = append(responses, guessJSON(true))
	oracle := &scriptedOracle{responses: responses}
	o := newTestOrchestrator(t, oracle, alice)

	res, err := o.Run(context.Background(), uuid.New(), "task", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeEducatedGuess {
		t.Errorf("outcome = %s, want educated_guess", res.Outcome)
	}
	if !res.Outcome.Success() {
		t.Error("educated guess must count as success")
	}
	// Flat evaluations trip the detector on turns 3 and 4; the second trip
	// escalates.
	if res.Turns != 4 {
		t.Errorf("turns = %d, want 4", res.Turns)
	}
	if res.TimesStalled != 2 {
		t.Errorf("times_stalled = %d, want 2", res.TimesStalled)
	}
}

func TestRun_StallReplanRestartsRound(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	responses := []string{"facts", "plan"}
	for i := 0; i < 4; i++ {
		responses = append(responses,
			assessJSON(false, true, 50, "Alice", "poke around"),
			"cand",
			assessJSON(false, true, 40, "Alice", "poke around"),
		)
	}
	responses = append(responses,
		guessJSON(false),
		"FACTS V2",
		"PLAN V2",
		assessJSON(true, true, 90, "Alice", "finish"),
		"cand2",
		assessJSON(true, true, 60, "Alice", "finish"),
	)
	oracle := &scriptedOracle{responses: responses}
	o := newTestOrchestrator(t, oracle, alice)

	res, err := o.Run(context.Background(), uuid.New(), "task", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeSatisfied {
		t.Errorf("outcome = %s, want satisfied", res.Outcome)
	}
	if res.Turns != 5 {
		t.Errorf("turns = %d, want 5", res.Turns)
	}
	if res.Facts != "FACTS V2" {
		t.Errorf("facts = %q, want FACTS V2", res.Facts)
	}
	if res.Plan != "PLAN V2" {
		t.Errorf("plan = %q, want PLAN V2", res.Plan)
	}
	// Escalation restarts the round: workers reset again and the new
	// briefing carries the rewritten facts and plan.
	if alice.resets != 2 {
		t.Errorf("resets = %d, want 2", alice.resets)
	}
	if _, ok := alice.find("FACTS V2"); !ok {
		t.Error("second briefing never reached the worker")
	}
}

func TestRun_ReplanClearsCheckpointWindow(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	responses := []string{"facts", "plan"}
	for i := 0; i < 4; i++ {
		responses = append(responses,
			assessJSON(false, true, 50, "Alice", "poke around"),
			"cand",
			assessJSON(false, true, 40, "Alice", "poke around"),
		)
	}
	responses = append(responses,
		guessJSON(false),
		"FACTS V2",
		"PLAN V2",
		// A score dip right after the re-plan: against a retained log this
		// would read as yet another non-increasing window and re-escalate.
		assessJSON(false, true, 40, "Alice", "keep going"),
		"cand",
		assessJSON(false, true, 30, "Alice", "keep going"),
		assessJSON(true, true, 90, "Alice", "finish"),
		"cand2",
		assessJSON(true, true, 60, "Alice", "finish"),
	)
	oracle := &scriptedOracle{responses: responses}
	o := newTestOrchestrator(t, oracle, alice)

	res, err := o.Run(context.Background(), uuid.New(), "task", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeSatisfied {
		t.Errorf("outcome = %s, want satisfied", res.Outcome)
	}
	// Turn 5 starts a fresh window: one checkpoint, no stagnation, normal
	// delegation; turn 6 terminates.
	if res.Turns != 6 {
		t.Errorf("turns = %d, want 6", res.Turns)
	}
	if res.TimesStalled != 2 {
		t.Errorf("times_stalled = %d, want 2", res.TimesStalled)
	}
}

func TestStartRound_ResetsStalledCount(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	o := newTestOrchestrator(t, &scriptedOracle{}, alice)

	s := &session{runID: uuid.New(), task: "task", stalledCount: 3}
	if err := o.startRound(context.Background(), s); err != nil {
		t.Fatalf("startRound: %v", err)
	}
	if s.stalledCount != 0 {
		t.Errorf("stalled_count = %d, want 0 at round start", s.stalledCount)
	}
}

func TestRun_IncreasingEvaluationsExhaustBudget(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{responses: []string{
		"facts",
		"plan",
		assessJSON(false, true, 40, "Alice", "step one"),
		"cand",
		assessJSON(false, true, 30, "Alice", "step one"),
		assessJSON(false, true, 60, "Alice", "step two"),
		"cand",
		assessJSON(false, true, 50, "Alice", "step two"),
	}}
	o := newTestOrchestrator(t, oracle, alice)

	res, err := o.Run(context.Background(), uuid.New(), "task", 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTurnBudgetExhausted {
		t.Errorf("outcome = %s, want turn_budget_exhausted", res.Outcome)
	}
	if res.Outcome.Success() {
		t.Error("budget exhaustion must not count as success")
	}
	if res.Signal != TerminateSignal {
		t.Errorf("signal = %q, want %q", res.Signal, TerminateSignal)
	}
	if res.Turns != 2 {
		t.Errorf("turns = %d, want 2", res.Turns)
	}
	if res.TimesStalled != 0 {
		t.Errorf("times_stalled = %d, want 0", res.TimesStalled)
	}
}

func TestRun_MalformedAssessmentRestartsRound(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{responses: []string{
		"facts",
		"plan",
		assessJSON(false, true, 0, "Alice", "x"), // evaluation out of range
		assessJSON(true, true, 90, "Alice", "finish"),
		"cand",
		assessJSON(true, true, 60, "Alice", "finish"),
	}}
	o := newTestOrchestrator(t, oracle, alice)

	res, err := o.Run(context.Background(), uuid.New(), "task", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeSatisfied {
		t.Errorf("outcome = %s, want satisfied", res.Outcome)
	}
	// The bad turn still consumed budget but produced no checkpoint, and
	// the round restarted.
	if res.Turns != 2 {
		t.Errorf("turns = %d, want 2", res.Turns)
	}
	if alice.resets != 2 {
		t.Errorf("resets = %d, want 2", alice.resets)
	}
}

func TestRun_UnknownSpeakerRestartsRound(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{responses: []string{
		"facts",
		"plan",
		assessJSON(false, true, 50, "Bob", "x"), // not on the team
		assessJSON(true, true, 90, "Alice", "finish"),
		"cand",
		assessJSON(true, true, 60, "Alice", "finish"),
	}}
	o := newTestOrchestrator(t, oracle, alice)

	res, err := o.Run(context.Background(), uuid.New(), "task", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeSatisfied {
		t.Errorf("outcome = %s, want satisfied", res.Outcome)
	}
	if alice.resets != 2 {
		t.Errorf("resets = %d, want 2", alice.resets)
	}
}

func TestRun_OracleTransportErrorFatal(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{responses: []string{"facts", "plan"}} // exhausted mid-turn
	o := newTestOrchestrator(t, oracle, alice)

	_, err := o.Run(context.Background(), uuid.New(), "task", 0)
	if !errors.Is(err, errTransport) {
		t.Fatalf("err = %v, want errTransport", err)
	}
}

func TestRun_BootstrapFailureFatal(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{} // fails immediately
	o := newTestOrchestrator(t, oracle, alice)

	_, err := o.Run(context.Background(), uuid.New(), "task", 0)
	if err == nil {
		t.Fatal("expected bootstrap error")
	}
	if !strings.Contains(err.Error(), "fact survey") {
		t.Errorf("err = %v, want fact survey failure", err)
	}
}

// --- Persistence and events ---

func TestRun_PersistsCheckpointsAndMessages(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{responses: []string{
		"THE FACTS",
		"THE PLAN",
		assessJSON(true, true, 90, "Alice", "wrap it up"),
		"cand",
		assessJSON(true, true, 80, "Alice", "wrap it up"),
	}}
	store := NewInMemoryStore()
	runID := uuid.New()
	o := newTestOrchestrator(t, oracle, alice).WithStore(store)

	if _, err := o.Run(context.Background(), runID, "task", 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cps, err := store.ListCheckpoints(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 1 {
		t.Fatalf("got %d checkpoints, want 1", len(cps))
	}
	if cps[0].Evaluation != 90 || cps[0].Turn != 1 || cps[0].Plan != "THE PLAN" {
		t.Errorf("unexpected checkpoint: %+v", cps[0])
	}

	msgs, err := store.ListMessages(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Speaker != orchestratorName || msgs[0].Role != "assistant" || msgs[0].Visible {
		t.Errorf("unexpected briefing record: %+v", msgs[0])
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	alice := &scriptWorker{name: "Alice"}
	oracle := &scriptedOracle{responses: []string{
		"facts",
		"plan",
		assessJSON(true, true, 90, "Alice", "wrap it up"),
		"cand",
		assessJSON(true, true, 80, "Alice", "wrap it up"),
	}}
	broker := events.NewBroker()
	ch, cancel := broker.Subscribe()
	defer cancel()

	o := newTestOrchestrator(t, oracle, alice).WithBroker(broker)
	if _, err := o.Run(context.Background(), uuid.New(), "task", 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := make(map[events.Type]bool)
	for {
		select {
		case ev := <-ch:
			seen[ev.Type] = true
		default:
			for _, want := range []events.Type{events.PlanUpdated, events.RoundStarted, events.TurnDecided} {
				if !seen[want] {
					t.Errorf("missing event %s", want)
				}
			}
			return
		}
	}
}
