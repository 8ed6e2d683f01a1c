package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"po-ledger/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
)

// ObservationDraft is the structured answer requested from the model.
type ObservationDraft struct {
	Observation string  `json:"observation" jsonschema:"description=Two to four sentences for the observation box of a delivery penalty sheet"`
	Confidence  float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type ObservationDrafter interface {
	DraftObservation(ctx context.Context, c core.PenaltyContext) (*ObservationDraft, error)
}

// completer sends one prompt with a strict JSON schema and returns the raw text.
type completer interface {
	complete(ctx context.Context, prompt string, schema map[string]any) (string, error)
}

type Agent struct {
	llm completer
}

func NewAgent(apiKey, model string, opts ...option.RequestOption) *Agent {
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	if model == "" {
		model = string(shared.ChatModelGPT4o)
	}
	return &Agent{llm: &openAICompleter{client: &client, model: model}}
}

func (a *Agent) DraftObservation(ctx context.Context, c core.PenaltyContext) (*ObservationDraft, error) {
	schema, err := schemaMap()
	if err != nil {
		return nil, err
	}

	content, err := a.llm.complete(ctx, penaltyPrompt(c), schema)
	if err != nil {
		return nil, fmt.Errorf("%w: openai responses error: %v", core.ErrExternalService, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty response content", core.ErrExternalService)
	}

	var draft ObservationDraft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return nil, fmt.Errorf("%w: failed to parse completion: %v", core.ErrExternalService, err)
	}
	draft.Observation = strings.TrimSpace(draft.Observation)
	if draft.Observation == "" || draft.Confidence < 0 || draft.Confidence > 1 {
		return nil, fmt.Errorf("%w: unusable draft (confidence %.2f)", core.ErrExternalService, draft.Confidence)
	}
	return &draft, nil
}

func penaltyPrompt(c core.PenaltyContext) string {
	return fmt.Sprintf(`You are a procurement officer writing the observation box of a delivery penalty sheet.
Write in the register of an internal memo. Do not invent facts that are not listed below.
State who caused the delay and whether the penalty is capped.
Provide a confidence score (0.0-1.0).

PO: %s
Supplier: %s
Description: %s
PO amount: %s %s
Planned end: %s, actual end: %s (%d days late)
Delay days by cause: MTN %d, vendor %d, force majeure %d
Quotité réalisée: %s%%
Penalties calculated: %s, cap: %s, due: %s`,
		c.PONumber, c.Supplier, c.OrderDescription,
		c.POAmount.StringFixed(2), c.Currency,
		c.PIPEndDate, c.ActualEndDate, c.TotalPenaltyDays,
		c.DelayPartMTN, c.DelayPartVendor, c.DelayPartForce,
		c.QuotiteRealisee.String(),
		c.PenaltiesCalculated.StringFixed(2), c.PenaltyCap.StringFixed(2), c.PenaltiesDue.StringFixed(2))
}

func schemaMap() (map[string]any, error) {
	schemaJSON, err := json.Marshal(generateSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(schemaJSON, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return m, nil
}

func generateSchema() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v ObservationDraft
	return reflector.Reflect(v)
}

type openAICompleter struct {
	client *openai.Client
	model  string
}

func (o *openAICompleter) complete(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(o.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "penalty_observation",
					Strict:      param.NewOpt(true),
					Schema:      schema,
					Description: param.NewOpt("A drafted observation for a delivery penalty sheet"),
				},
			},
		},
	}
	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", err
	}
	return resp.OutputText(), nil
}
