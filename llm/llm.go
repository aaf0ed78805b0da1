// Package llm generates structured JSON answers from (query, context,
// document IDs) triples via a JSON-mode chat completion.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// answerSchema is inlined into the system prompt so the model returns a
// shape we can decode directly.
const answerSchema = `{"type":"object","properties":{"answer":{"type":"string","description":"The answer to the user's question"},"confidence":{"type":"number","minimum":0,"maximum":1,"description":"Confidence score between 0 and 1"},"citations":{"type":"array","items":{"type":"string"},"description":"List of document IDs cited in the answer"},"is_complete":{"type":"boolean","description":"Whether the answer is complete or partial based on available context"}},"required":["answer","confidence","is_complete"]}`

// Structured is the decoded model answer.
type Structured struct {
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Citations  []string `json:"citations"`
	IsComplete bool     `json:"is_complete"`
}

// Client asks a chat model for structured answers.
type Client struct {
	api   openai.Client
	model string
}

// New builds a Client. Extra request options are appended after the API
// key, letting tests point the client at a stub server.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{api: openai.NewClient(opts...), model: model}
}

func systemPrompt() string {
	return "You are a helpful assistant that answers questions based on the provided context. " +
		"You MUST respond with valid JSON only, no other text. " +
		"Provide a confidence score (0-1) indicating how confident you are in your answer. " +
		"If the context doesn't contain enough information, set is_complete to false and explain what's missing. " +
		"Return citations as a list of document IDs that were used in your answer. " +
		"Your response must be valid JSON matching this schema: " + answerSchema
}

func userPrompt(query, contextText string, documentIDs []string) string {
	var ids = "None"
	if len(documentIDs) > 0 {
		ids = strings.Join(documentIDs, ", ")
	}
	return "Context:\n" + contextText + "\n\nQuestion: " + query + "\n\n" +
		"Available document IDs: " + ids + "\n\n" +
		"Provide a structured answer with confidence score and citations as JSON only (no markdown, no code blocks)."
}

// Answer generates a structured answer grounded in |contextText|.
// |documentIDs| are the documents the context was assembled from, in
// order, so the model can cite them.
func (c *Client) Answer(ctx context.Context, query, contextText string, documentIDs []string) (Structured, error) {
	var resp, err = c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt()),
			openai.UserMessage(userPrompt(query, contextText, documentIDs)),
		},
		Temperature: openai.Float(0.7),
		MaxTokens:   openai.Int(500),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return Structured{}, fmt.Errorf("generating response: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Structured{}, errors.New("empty response from LLM")
	}

	var content = resp.Choices[0].Message.Content
	var out Structured
	if err = json.Unmarshal([]byte(content), &out); err != nil {
		// Truncate the echoed content to keep logs bounded.
		return Structured{}, fmt.Errorf("parsing LLM response as JSON: %v; content: %s", err, truncate(content, 200))
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Structured{}, fmt.Errorf("LLM confidence %v out of range; content: %s", out.Confidence, truncate(content, 200))
	}
	if out.Citations == nil {
		out.Citations = []string{}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
