package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grading_duration_seconds",
		Help:      "Duration of AI grading requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grading_failures_total",
		Help:      "Number of AI grading failures",
	}, []string{"model"})
)

const gradingResponseSchema = `{
  "type": "object",
  "required": ["score", "confidence", "feedback"],
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "feedback": {"type": "string"},
    "rubric_scores": {
      "type": "object",
      "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
    }
  }
}`

var gradingSchema = jsonschema.MustCompileString("grading_response.json", gradingResponseSchema)

// OpenAIConfig defines configuration options for the OpenAI grader.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIGrader implements Grader against the OpenAI chat completion API.
type OpenAIGrader struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGrader builds a new grader using the provided configuration.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	tracer := otel.Tracer("github.com/noah-isme/gema-mastery-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAIGrader{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger.With().Str("component", "openai_grader").Logger(),
	}, nil
}

// Grade sends the grading request to OpenAI and parses the response.
func (g *OpenAIGrader) Grade(parent context.Context, input GradingInput) (GradingResult, error) {
	ctx, span := g.tracer.Start(parent, "openai.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: graderSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(g.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return GradingResult{}, g.fail(span, fmt.Errorf("openai grade: %w", err))
	}

	if len(resp.Choices) == 0 {
		return GradingResult{}, g.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	result, err := parseGradingResponse(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return GradingResult{}, g.fail(span, err)
	}

	result.Raw = map[string]interface{}{
		"usage": resp.Usage,
		"model": resp.Model,
	}
	span.SetAttributes(attribute.Float64("grading.confidence", result.Confidence))

	return result, nil
}

func (g *OpenAIGrader) fail(span trace.Span, err error) error {
	aiFailures.WithLabelValues(g.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	g.logger.Warn().Err(err).Msg("ai grading failed")
	return err
}

func graderSystemPrompt() string {
	return "You are a school teacher grading a student's written answer. Respond with a JSON object containing " +
		"score (0-1), confidence (0-1) describing how certain you are of the grade, feedback addressed to the student, " +
		"and an optional rubric_scores object mapping each rubric criterion to a 0-1 score."
}

func buildUserPrompt(input GradingInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(input.QuestionText)
	if input.Rubric != "" {
		builder.WriteString("\n\n## Rubric\n")
		builder.WriteString(input.Rubric)
	}
	if input.ReferenceAnswer != "" {
		builder.WriteString("\n\n## Reference Answer\n")
		builder.WriteString(input.ReferenceAnswer)
	}
	builder.WriteString(fmt.Sprintf("\n\n## Maximum Points\n%.2f", input.MaxPoints))
	if input.Language != "" {
		builder.WriteString("\n\n## Feedback Language\n")
		builder.WriteString(input.Language)
	}
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(input.AnswerText)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseGradingResponse(content string) (GradingResult, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return GradingResult{}, fmt.Errorf("parse grading json: %w", err)
	}
	if err := gradingSchema.Validate(raw); err != nil {
		return GradingResult{}, fmt.Errorf("grading json does not match schema: %w", err)
	}

	var result GradingResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return GradingResult{}, fmt.Errorf("decode grading json: %w", err)
	}

	return result, nil
}
