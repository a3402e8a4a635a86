package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/penmark/internal/llm/prompts"
	"github.com/pavelanni/penmark/internal/model"
)

// ErrAnalysisFailed is returned when the model call fails or its response
// does not match the Evaluation shape.
var ErrAnalysisFailed = errors.New("analysis failed")

const (
	defaultGradeLabel     = "Genel"
	defaultShortCircuit   = "Kıyaslama için en az 2 öğrenci analizi gereklidir."
	defaultNoComparison   = "Karşılaştırma yapılamadı."
	minComparedTranscript = 2
)

// Image is the decoded form of a work image handed to a transport.
type Image struct {
	MIMEType string
	Data     []byte
}

// Transport performs the outbound model calls.
type Transport interface {
	// GenerateJSON sends prompt and image and returns the raw JSON text the
	// model produced for the Evaluation schema.
	GenerateJSON(ctx context.Context, prompt string, img Image) (string, error)
	// GenerateText sends a text-only prompt and returns the model's answer.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Messages holds the fixed user-facing strings the client can return
// without calling the model.
type Messages struct {
	DefaultGradeLabel string
	ShortCircuit      string
	NoComparison      string
}

// Client wraps a model transport with the rubric prompts and response checks.
type Client struct {
	transport Transport
	lang      prompts.Language
	messages  Messages
	validate  *validator.Validate
}

// Option configures a Client.
type Option func(*Client)

// WithLanguage selects the prompt language.
func WithLanguage(lang prompts.Language) Option {
	return func(c *Client) { c.lang = lang }
}

// WithMessages overrides the fixed messages; empty fields keep their defaults.
func WithMessages(m Messages) Option {
	return func(c *Client) {
		if m.DefaultGradeLabel != "" {
			c.messages.DefaultGradeLabel = m.DefaultGradeLabel
		}
		if m.ShortCircuit != "" {
			c.messages.ShortCircuit = m.ShortCircuit
		}
		if m.NoComparison != "" {
			c.messages.NoComparison = m.NoComparison
		}
	}
}

// New creates a new evaluation client on top of t.
func New(t Transport, opts ...Option) (*Client, error) {
	if err := prompts.Load(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	c := &Client{
		transport: t,
		lang:      prompts.LangTurkish,
		messages: Messages{
			DefaultGradeLabel: defaultGradeLabel,
			ShortCircuit:      defaultShortCircuit,
			NoComparison:      defaultNoComparison,
		},
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !prompts.IsValidLanguage(string(c.lang)) {
		return nil, fmt.Errorf("invalid prompt language %q", c.lang)
	}
	return c, nil
}

// EvaluateWork scores one work image against the grade and reference text.
// It makes exactly one model call and never retries.
func (c *Client) EvaluateWork(ctx context.Context, img model.EncodedImage, gradeLabel, referenceText string) (*model.Evaluation, error) {
	mimeType, data, err := img.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	if strings.TrimSpace(gradeLabel) == "" {
		gradeLabel = c.messages.DefaultGradeLabel
	}

	prompt, err := prompts.BuildEvalPrompt(c.lang, gradeLabel, referenceText)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	raw, err := c.transport.GenerateJSON(ctx, prompt, Image{MIMEType: mimeType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: LLM API call: %w", ErrAnalysisFailed, err)
	}
	slog.Debug("LLM response", "raw", raw)

	eval, err := c.parseEvaluation(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	return eval, nil
}

// ComparePlagiarism asks the model for verbatim overlaps between the
// transcripts of already evaluated students. With fewer than two
// transcripts it returns a fixed message without calling the model.
func (c *Client) ComparePlagiarism(ctx context.Context, students []model.Student, gradeLabel string) (string, error) {
	var transcripts []prompts.Transcript
	for _, s := range students {
		if s.Evaluation == nil || strings.TrimSpace(s.Evaluation.TranscribedText) == "" {
			continue
		}
		transcripts = append(transcripts, prompts.Transcript{Name: s.Name, Text: s.Evaluation.TranscribedText})
	}
	if len(transcripts) < minComparedTranscript {
		return c.messages.ShortCircuit, nil
	}
	if strings.TrimSpace(gradeLabel) == "" {
		gradeLabel = c.messages.DefaultGradeLabel
	}

	prompt, err := prompts.BuildComparePrompt(c.lang, gradeLabel, transcripts)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	text, err := c.transport.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: LLM comparison call: %w", ErrAnalysisFailed, err)
	}
	if text == "" {
		return c.messages.NoComparison, nil
	}
	return text, nil
}

// evaluationResponse mirrors model.Evaluation with every field required.
// Pointers distinguish a missing field from a zero value.
type evaluationResponse struct {
	HandwritingScore  *float64              `json:"handwritingScore" validate:"required"`
	OriginalityScore  *float64              `json:"originalityScore" validate:"required"`
	PunctuationErrors *[]string             `json:"punctuationErrors" validate:"required"`
	ConceptKnowledge  *string               `json:"conceptKnowledge" validate:"required"`
	TranscribedText   *string               `json:"transcribedText" validate:"required"`
	CreativityScore   *float64              `json:"creativityScore" validate:"required"`
	PlagiarismNote    *string               `json:"plagiarismNote" validate:"required"`
	OverallScore      *float64              `json:"overallScore" validate:"required"`
	Weaknesses        *[]string             `json:"weaknesses" validate:"required"`
	Suggestions       *[]suggestionResponse `json:"suggestions" validate:"required,dive"`
}

type suggestionResponse struct {
	Topic  *string `json:"topic" validate:"required"`
	Action *string `json:"action" validate:"required"`
}

func (c *Client) parseEvaluation(raw string) (*model.Evaluation, error) {
	raw = stripCodeFence(raw)
	if raw == "" {
		return nil, errors.New("empty response")
	}
	var resp evaluationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if err := c.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("incomplete LLM response: %w", err)
	}

	eval := &model.Evaluation{
		HandwritingScore:  resp.HandwritingScore,
		OriginalityScore:  resp.OriginalityScore,
		PunctuationErrors: *resp.PunctuationErrors,
		ConceptKnowledge:  *resp.ConceptKnowledge,
		TranscribedText:   *resp.TranscribedText,
		CreativityScore:   resp.CreativityScore,
		PlagiarismNote:    *resp.PlagiarismNote,
		OverallScore:      resp.OverallScore,
		Weaknesses:        *resp.Weaknesses,
		Suggestions:       make([]model.Suggestion, 0, len(*resp.Suggestions)),
	}
	for _, s := range *resp.Suggestions {
		eval.Suggestions = append(eval.Suggestions, model.Suggestion{Topic: *s.Topic, Action: *s.Action})
	}
	return eval, nil
}

// stripCodeFence removes a ```json fence some OpenAI-compatible servers
// wrap around JSON output.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimPrefix(raw, "json")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
