package llm

import (
	"context"
	"strings"
	"time"
)

// DemoStreamer answers without a model, line by line, so the product can
// be exercised without an API key.
type DemoStreamer struct {
	// Delay between lines.
	Delay time.Duration
}

var _ Streamer = DemoStreamer{}

func (d DemoStreamer) Stream(ctx context.Context, req Request, emit ChunkFunc) error {
	text := demoAnalysis
	if req.Task == TaskGenerate {
		text = demoEssay
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if d.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.Delay):
			}
		}
		if err := emit(line); err != nil {
			return err
		}
	}
	return nil
}

const demoAnalysis = `# Essay Analysis

## **Narrative and Storytelling**: 75/100
Clear narrative structure; more vivid imagery would help.

## **Personal Reflection and Growth**: 68/100
Good reflection, though deeper introspection would strengthen it.

## **Overall Score: 71/100**

*Note: This is a demo response. Configure an LLM API key for real analysis.*
`

const demoEssay = `# Generated Essay

I never imagined that a simple curiosity about how things work would lead me down such an unexpected path.

*Note: This is a demo response. Configure an LLM API key for real essay generation.*
`
