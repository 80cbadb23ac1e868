// Package commentary drafts report-card comments with an OpenAI-compatible
// chat API. Drafts are suggestions; nothing is saved until a teacher accepts
// them through the normal result entry path.
package commentary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/gradebook/internal/report"
)

// Draft holds suggested comments.
type Draft struct {
	TeacherComment   string `json:"teacher_comment"`
	PrincipalComment string `json:"principal_comment"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
	tone  Tone
}

// New creates a new commentary client. An unknown tone falls back to ToneWarm.
func New(baseURL, apiKey, modelName string, tone Tone) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if !validTones[tone] {
		tone = ToneWarm
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
		tone:  tone,
	}
}

// Draft asks the model for teacher and principal comments on d.
func (c *Client) Draft(ctx context.Context, d report.Document) (Draft, error) {
	prompt, err := BuildPrompt(c.tone, d)
	if err != nil {
		return Draft{}, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.4,
	})
	if err != nil {
		return Draft{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Draft{}, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "student_id", d.Result.StudentID, "raw", raw)

	var out Draft
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Draft{}, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if out.TeacherComment == "" {
		return Draft{}, fmt.Errorf("LLM response has no teacher comment (raw: %s)", raw)
	}
	out.TeacherComment = trimWords(out.TeacherComment, maxWords)
	out.PrincipalComment = trimWords(out.PrincipalComment, maxWords)
	return out, nil
}
