package orchestrator

import (
	"fmt"
	"strings"
)

// Prompt builders for the planning and assessment protocol. The wording is
// load-bearing: the structured queries promise an exact JSON schema and the
// parser in schema.go holds them to it.

// factSurveyPrompt asks the oracle for a closed-book pre-survey of the task.
// The response must use the four fact-sheet headings.
func factSurveyPrompt(task string) string {
	return strings.TrimSpace(fmt.Sprintf(`Below I will present you a request. Before we begin addressing the request, please answer the following pre-survey to the best of your ability. Keep in mind that you are Ken Jennings-level with trivia, and Mensa-level with puzzles, so there should be a deep well to draw from.

Here is the request:

%s

Here is the pre-survey:

    1. Please list any specific facts or figures that are GIVEN in the request itself. It is possible that there are none.
    2. Please list any facts that may need to be looked up, and WHERE SPECIFICALLY they might be found. In some cases, authoritative sources are mentioned in the request itself.
    3. Please list any facts that may need to be derived (e.g., via logical deduction, simulation, or computation)
    4. Please list any facts that are recalled from memory, hunches, well-reasoned guesses, etc.

When answering this survey, keep in mind that "facts" will typically be specific names, dates, statistics, etc. Your answer should use headings:

    1. GIVEN OR VERIFIED FACTS
    2. FACTS TO LOOK UP
    3. FACTS TO DERIVE
    4. EDUCATED GUESSES`, task))
}

// draftPlanPrompt asks for the initial bullet-point plan given the roster.
func draftPlanPrompt(roster string) string {
	return strings.TrimSpace(fmt.Sprintf(`Fantastic. To address this request we have assembled the following team:

%s

Based on the team composition, and known and unknown facts, please devise a short bullet-point plan for addressing the original request. Remember, there is no requirement to involve all team members -- a team member's particular expertise may not be needed for this task.`, roster))
}

// briefingMessage is the single message each round opens with: task,
// roster, facts, and the plan in force.
func briefingMessage(task, roster, facts, plan string) string {
	return strings.TrimSpace(fmt.Sprintf(`
We are working to address the following user request:

%s


To answer this request we have assembled the following team:

%s

Some additional points to consider:

%s

%s`, task, roster, facts, plan))
}

// stepPrompt is the five-field structured assessment query issued on a
// normal turn.
func stepPrompt(task, roster, names string) string {
	return strings.TrimSpace(fmt.Sprintf(`
Recall we are working on the following request:

%s

And we have assembled the following team:

%s

To make progress on the request, please answer the following questions, including necessary reasoning:

    - Is the request fully satisfied? (True if complete, or False if the original request has yet to be SUCCESSFULLY addressed)
    - Are we making forward progress? (True if just starting, or recent messages are adding value. False if recent messages show evidence of being stuck in a reasoning or action loop, or there is evidence of significant barriers to success such as the inability to read from a required file)
    - How would you rate the current evaluation of the request? (1 to 100, with 100 being the best possible evaluation)
    - Who should speak next? (select from: %s)
    - What instruction or question would you give this team member? (Phrase as if speaking directly to them, and include any specific information they may need)

Please output an answer in pure JSON format according to the following schema. The JSON object must be parsable as-is. DO NOT OUTPUT ANYTHING OTHER THAN JSON, AND DO NOT DEVIATE FROM THIS SCHEMA:

    {
        "is_request_satisfied": {
            "reason": string,
            "answer": boolean
        },
        "is_progress_being_made": {
            "reason": string,
            "answer": boolean
        },
        "current_evaluation": {
            "reason": string,
            "answer": int  # Rating from 1 to 100
        },
        "next_speaker": {
            "reason": string,
            "answer": string (select from: %s)
        },
        "instruction_or_question": {
            "reason": string,
            "answer": string
        }
    }`, task, roster, names, names))
}

// fastStepPrompt is the reduced three-field query used when the previous
// message carries an executable code block; routing is decided without
// consulting the oracle.
func fastStepPrompt(task string) string {
	return strings.TrimSpace(fmt.Sprintf(`
Recall we are working on the following request:

%s

To make progress on the request, please answer the following questions, including necessary reasoning:

    - Is the request fully satisfied? (True if complete, or False if the original request has yet to be SUCCESSFULLY addressed)
    - Are we making forward progress? (True if just starting, or recent messages are adding value. False if recent messages show evidence of being stuck in a reasoning or action loop, or there is evidence of significant barriers to success such as the inability to read from a required file)
    - How would you rate the current evaluation of the request? (1 to 100, with 100 being the best possible evaluation)

Please output an answer in pure JSON format according to the following schema. The JSON object must be parsable as-is. DO NOT OUTPUT ANYTHING OTHER THAN JSON, AND DO NOT DEVIATE FROM THIS SCHEMA:

    {
        "is_request_satisfied": {
            "reason": string,
            "answer": boolean
        },
        "is_progress_being_made": {
            "reason": string,
            "answer": boolean
        },
        "current_evaluation": {
            "reason": string,
            "answer": int  # Rating from 1 to 100
        }
    }`, task))
}

const (
	// executeRoutingReason annotates the forced routing fields on the
	// code fast path.
	executeRoutingReason = "Assigning to an agent that can execute the script."
	// executeInstruction is the fixed instruction for the fast path.
	executeInstruction = "Please execute the above script."
)

// revisePlanPrompt asks the oracle for a competing plan given the latest
// assessment. rawAssessment is the assessment re-serialized as JSON.
func revisePlanPrompt(evaluation int, rawAssessment, plan, roster string) string {
	return strings.TrimSpace(fmt.Sprintf(`Based on the most recent feedback and our need for innovation:
- Last Evaluation: %d
- Last Response: %s

Please revise our existing plan to develop a more effective approach. The goal is to create a unique plan that diverges from previous strategies, ensuring a fresh perspective. The previous plan was:
%s

To guide your proposal, use bullet points to outline the new plan. Consider the team composition and incorporate insights from the recent evaluation:
Team Membership:
%s`, evaluation, rawAssessment, plan, roster))
}

// candidatePlanBroadcast wraps a candidate plan for silent delivery to the
// whole team.
func candidatePlanBroadcast(plan string) string {
	return "New Updated Plan: \n" + plan
}

// educatedGuessPrompt asks whether the fact sheet supports answering now.
func educatedGuessPrompt(facts string) string {
	return strings.TrimSpace(fmt.Sprintf(`Given the following information

%s

Please answer the following question, including necessary reasoning:
    - Do you have two or more congruent pieces of information that will allow you to make an educated guess for the original request? The educated guess MUST answer the question.
Please output an answer in pure JSON format according to the following schema. The JSON object must be parsable as-is. DO NOT OUTPUT ANYTHING OTHER THAN JSON, AND DO NOT DEVIATE FROM THIS SCHEMA:

    {
        "has_educated_guesses": {
            "reason": string,
            "answer": boolean
        }
    }`, facts))
}

// rewriteFactsPrompt asks for a wholesale fact-sheet rewrite during
// escalation. The rewrite must add or update at least one educated guess.
func rewriteFactsPrompt(facts string) string {
	return strings.TrimSpace(fmt.Sprintf(`It's clear we aren't making as much progress as we would like, but we may have learned something new. Please rewrite the following fact sheet, updating it to include anything new we have learned. This is also a good time to update educated guesses (please add or update at least one educated guess or hunch, and explain your reasoning).

%s`, facts))
}

// replanFromHistoryPrompt asks for a fresh plan given every checkpoint
// recorded so far. Team substitution is explicitly forbidden.
func replanFromHistoryPrompt(checkpoints []Checkpoint, roster string) string {
	var sb strings.Builder
	sb.WriteString("We have noticed a lack of progress in our last three evaluations. Here's a comprehensive overview of all our efforts:\n")
	for i, cp := range checkpoints {
		fmt.Fprintf(&sb, "Plan %d: %s, Evaluation: %d, Insights: %s\n", i+1, cp.Plan, cp.Evaluation, cp.Instruction)
	}
	sb.WriteString("\nPlease develop a new plan expressed in bullet points, taking into account the following team composition and our entire history. We cannot include any outside individuals in this plan.")
	fmt.Fprintf(&sb, "\n\nTeam membership:\n%s\n", roster)
	return sb.String()
}
