// Package llm streams model output for essay analysis and generation.
package llm

import (
	"context"
	"errors"
	"strings"
	"text/template"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a streaming chat completion request.
type Request struct {
	Task      Task
	Model     string
	Messages  []Message
	MaxTokens int
}

// ChunkFunc receives streamed text. Returning an error stops the stream.
type ChunkFunc func(chunk string) error

// Streamer produces a completion incrementally.
type Streamer interface {
	Stream(ctx context.Context, req Request, emit ChunkFunc) error
}

// Task names a prompted operation.
type Task string

const (
	TaskAnalyze  Task = "analyze"
	TaskGenerate Task = "generate"
)

// Prompt is a configured prompt. User is a text/template rendered with
// {{.Input}} bound to the caller's text.
type Prompt struct {
	Model     string `json:"model"      yaml:"model"`
	System    string `json:"system"     yaml:"system"`
	User      string `json:"user"       yaml:"user"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`
}

// ErrUnknownTask is returned for tasks with no configured prompt.
var ErrUnknownTask = errors.New("llm: unknown task")

// Assistant renders prompts and relays the streamed result.
type Assistant struct {
	streamer Streamer
	prompts  map[Task]Prompt
}

// NewAssistant builds an Assistant. Prompts missing from the map fall
// back to DefaultPrompts.
func NewAssistant(s Streamer, prompts map[Task]Prompt) *Assistant {
	merged := DefaultPrompts()
	for task, p := range prompts {
		d := merged[task]
		if p.Model == "" {
			p.Model = d.Model
		}
		if p.System == "" {
			p.System = d.System
		}
		if p.User == "" {
			p.User = d.User
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = d.MaxTokens
		}
		merged[task] = p
	}
	return &Assistant{streamer: s, prompts: merged}
}

// Run renders the prompt for task with input and streams the answer.
func (a *Assistant) Run(ctx context.Context, task Task, input string, emit ChunkFunc) error {
	req, err := a.Build(task, input)
	if err != nil {
		return err
	}
	return a.streamer.Stream(ctx, req, emit)
}

// Build renders the request for task without sending it.
func (a *Assistant) Build(task Task, input string) (Request, error) {
	p, ok := a.prompts[task]
	if !ok {
		return Request{}, ErrUnknownTask
	}

	tpl, err := template.New(string(task)).Parse(p.User)
	if err != nil {
		return Request{}, err
	}
	var b strings.Builder
	if err := tpl.Execute(&b, struct{ Input string }{input}); err != nil {
		return Request{}, err
	}

	req := Request{Task: task, Model: p.Model, MaxTokens: p.MaxTokens}
	if p.System != "" {
		req.Messages = append(req.Messages, Message{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, Message{Role: "user", Content: b.String()})
	return req, nil
}

// DefaultPrompts are used when configuration leaves a prompt empty.
func DefaultPrompts() map[Task]Prompt {
	return map[Task]Prompt{
		TaskAnalyze: {
			Model:     "gpt-4",
			System:    "You are an admissions reader for highly selective universities. Score essays honestly.",
			User:      "Score this college essay out of 100 in each category and overall, then list key areas for improvement:\n\n{{.Input}}",
			MaxTokens: 4000,
		},
		TaskGenerate: {
			Model:     "gpt-4",
			System:    "You are a helpful assistant.",
			User:      "Write a first-person college essay draft of 450 to 500 words based on this outline:\n\n{{.Input}}",
			MaxTokens: 7500,
		},
	}
}
