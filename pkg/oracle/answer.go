package oracle

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
)

// FinalAnswerTool is the function a model calls to end its reasoning loop. Gateway tools
// with the same name are hidden from the model.
const FinalAnswerTool = "final_answer"

const finalAnswerDescription = "Submit the answer to the question once the evidence is sufficient. " +
	"Every citation must quote a fact from the result of a tool you called."

var finalAnswerSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"narrative": {
			Type:        "string",
			Description: "Short explanation of what the evidence shows",
		},
		"citations": {
			Type:        "array",
			Description: "Facts backing the narrative, one per tool result",
			Items: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"tool": {Type: "string", Description: "Name of the tool that reported the fact"},
					"fact": {Type: "string", Description: "The fact, with numbers exactly as reported"},
				},
				Required: []string{"tool", "fact"},
			},
		},
		"learned": {
			Type:        "array",
			Description: "Durable facts about dependencies or topology, not the current incident",
			Items:       &jsonschema.Schema{Type: "string"},
		},
		"assessment": {
			Type: "string",
			Enum: []any{
				string(model.AssessmentHealthy),
				string(model.AssessmentDegraded),
				string(model.AssessmentUnknown),
			},
		},
	},
	Required: []string{"narrative", "assessment"},
}

type finalAnswerArgs struct {
	Narrative string `json:"narrative"`
	Citations []struct {
		Tool string `json:"tool"`
		Fact string `json:"fact"`
	} `json:"citations"`
	Learned    []string `json:"learned"`
	Assessment string   `json:"assessment"`
}

// decodeFinalAnswer converts the arguments of a final_answer call. Citations missing a
// tool or a fact are dropped.
func decodeFinalAnswer(raw []byte) (FinalAnswer, error) {
	var args finalAnswerArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return FinalAnswer{}, goerr.Wrap(ErrMalformedAction, "final answer is not valid",
			goerr.V("input", string(raw)),
			goerr.V("cause", err.Error()))
	}

	answer := FinalAnswer{
		Text:       strings.TrimSpace(args.Narrative),
		Assessment: model.ParseAssessment(strings.ToLower(strings.TrimSpace(args.Assessment))),
	}
	if answer.Text == "" {
		return FinalAnswer{}, goerr.Wrap(ErrMalformedAction, "final answer has no narrative", goerr.V("input", string(raw)))
	}

	for _, c := range args.Citations {
		tool, fact := strings.TrimSpace(c.Tool), strings.TrimSpace(c.Fact)
		if tool == "" || fact == "" {
			continue
		}
		answer.Citations = append(answer.Citations, model.Citation{Tool: tool, Fact: fact})
	}
	for _, fact := range args.Learned {
		if fact = strings.TrimSpace(fact); fact != "" {
			answer.Learned = append(answer.Learned, fact)
		}
	}
	return answer, nil
}

func decodeFinalAnswerArgs(args map[string]any) (FinalAnswer, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return FinalAnswer{}, goerr.Wrap(ErrMalformedAction, "final answer arguments are not encodable", goerr.V("cause", err.Error()))
	}
	return decodeFinalAnswer(raw)
}

// textAnswer accepts a plain reply as an uncited answer of unknown assessment
func textAnswer(text string) FinalAnswer {
	return FinalAnswer{Text: strings.TrimSpace(text), Assessment: model.AssessmentUnknown}
}
