package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is the Gemini model used when none is configured.
const DefaultGeminiModel = "gemini-3-flash-preview"

// evaluationSchema constrains Gemini output to the Evaluation shape.
var evaluationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"handwritingScore":  {Type: genai.TypeNumber},
		"originalityScore":  {Type: genai.TypeNumber},
		"punctuationErrors": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"conceptKnowledge":  {Type: genai.TypeString},
		"transcribedText":   {Type: genai.TypeString, Description: "Full verbatim transcription of the student's text."},
		"creativityScore":   {Type: genai.TypeNumber},
		"plagiarismNote":    {Type: genai.TypeString},
		"overallScore":      {Type: genai.TypeNumber},
		"weaknesses":        {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"suggestions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"topic":  {Type: genai.TypeString},
					"action": {Type: genai.TypeString},
				},
				Required: []string{"topic", "action"},
			},
		},
	},
	Required: []string{
		"handwritingScore", "originalityScore", "punctuationErrors",
		"conceptKnowledge", "transcribedText", "creativityScore",
		"plagiarismNote", "overallScore", "weaknesses", "suggestions",
	},
}

// Gemini is a Transport backed by the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini transport.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: modelName}, nil
}

// GenerateJSON sends the image inline with the rubric prompt and a response
// schema.
func (g *Gemini) GenerateJSON(ctx context.Context, prompt string, img Image) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(img.Data, img.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   evaluationSchema,
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	return resp.Text(), nil
}

// GenerateText sends a text-only prompt.
func (g *Gemini) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	return resp.Text(), nil
}

// Ping checks that the configured model is visible to the API key.
func (g *Gemini) Ping(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		return fmt.Errorf("get model %s: %w", g.model, err)
	}
	return nil
}

// Name returns the transport name.
func (g *Gemini) Name() string {
	return fmt.Sprintf("genai:%s", g.model)
}
