package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// BoolJudgment, IntJudgment, and StringJudgment are reasoned answer
// fields from a structured oracle response.
type BoolJudgment struct {
	Reason string `json:"reason"`
	Answer bool   `json:"answer"`
}

type IntJudgment struct {
	Reason string `json:"reason"`
	Answer int    `json:"answer"`
}

type StringJudgment struct {
	Reason string `json:"reason"`
	Answer string `json:"answer"`
}

// TurnAssessment is the oracle's structured answer to a step prompt. The
// routing fields are absent on the code fast path and filled in by the
// orchestrator instead.
type TurnAssessment struct {
	IsRequestSatisfied    BoolJudgment   `json:"is_request_satisfied"`
	IsProgressBeingMade   BoolJudgment   `json:"is_progress_being_made"`
	CurrentEvaluation     IntJudgment    `json:"current_evaluation"`
	NextSpeaker           StringJudgment `json:"next_speaker"`
	InstructionOrQuestion StringJudgment `json:"instruction_or_question"`
}

// GuessAssessment is the oracle's answer to the educated-guess query.
type GuessAssessment struct {
	HasEducatedGuesses BoolJudgment `json:"has_educated_guesses"`
}

// malformedResponseError marks an oracle response that decoded or
// validated badly. The control loop restarts the round on these instead
// of failing the run; transport errors stay fatal.
type malformedResponseError struct{ err error }

func (e *malformedResponseError) Error() string { return e.err.Error() }
func (e *malformedResponseError) Unwrap() error { return e.err }

func malformed(err error) error { return &malformedResponseError{err: err} }

// IsMalformedResponse reports whether err marks an unparsable or invalid
// structured oracle response.
func IsMalformedResponse(err error) bool {
	var m *malformedResponseError
	return errors.As(err, &m)
}

// repairJSON recovers a JSON object from a raw oracle response. Models
// routinely wrap the object in a code fence, append prose, or emit single
// quotes; jsonrepair handles all of those.
func repairJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", malformed(errors.New("empty response"))
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return "", malformed(fmt.Errorf("repair json: %w", err))
	}
	return repaired, nil
}

// parseTurnAssessment decodes and validates a structured turn response.
// requireRouting enforces the next-speaker and instruction fields; names is
// consulted only when routing is required.
func parseTurnAssessment(raw string, requireRouting bool, names []string) (*TurnAssessment, error) {
	repaired, err := repairJSON(raw)
	if err != nil {
		return nil, err
	}
	var a TurnAssessment
	if err := json.Unmarshal([]byte(repaired), &a); err != nil {
		return nil, malformed(fmt.Errorf("decode assessment: %w", err))
	}
	if a.CurrentEvaluation.Answer < 1 || a.CurrentEvaluation.Answer > 100 {
		return nil, malformed(fmt.Errorf("evaluation %d outside 1..100", a.CurrentEvaluation.Answer))
	}
	if requireRouting {
		speaker := strings.TrimSpace(a.NextSpeaker.Answer)
		if speaker == "" {
			return nil, malformed(errors.New("missing next_speaker"))
		}
		found := false
		for _, n := range names {
			if n == speaker {
				found = true
				break
			}
		}
		if !found {
			return nil, malformed(fmt.Errorf("next_speaker %q is not on the team", speaker))
		}
		a.NextSpeaker.Answer = speaker
	}
	return &a, nil
}

// parseGuessAssessment decodes the educated-guess response.
func parseGuessAssessment(raw string) (*GuessAssessment, error) {
	repaired, err := repairJSON(raw)
	if err != nil {
		return nil, err
	}
	var g GuessAssessment
	if err := json.Unmarshal([]byte(repaired), &g); err != nil {
		return nil, malformed(fmt.Errorf("decode guess assessment: %w", err))
	}
	return &g, nil
}
