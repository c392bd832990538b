package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/resilience"
)

// Block is one labeled piece of context handed to the model.
type Block struct {
	Label string
	Text  string
}

// Prompt is a completion request: instructions plus labeled context blocks.
type Prompt struct {
	System      string
	Instruction string
	Blocks      []Block
}

func (p Prompt) Messages() []Message {
	messages := make([]Message, 0, 2)
	if p.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: p.System})
	}

	var sb strings.Builder
	if len(p.Blocks) > 0 {
		sb.WriteString("Context:\n\n")
		for _, b := range p.Blocks {
			if b.Label != "" {
				sb.WriteString(b.Label)
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString(p.Instruction)

	return append(messages, Message{Role: RoleUser, Content: sb.String()})
}

// Complete runs the prompt under the retry policy. Exhausted or permanent
// failures come back as filing.ErrCapabilityFailure.
func Complete(ctx context.Context, client Client, policy resilience.Policy, p Prompt) (string, error) {
	if client == nil {
		return "", filing.CapabilityFailure(eris.New("llm client is not configured"), "complete")
	}
	out, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (string, error) {
		return client.Generate(ctx, p.Messages())
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", filing.CapabilityFailure(err, "complete")
	}
	return strings.TrimSpace(out), nil
}

// DecodeJSON extracts the first JSON object in text (tolerating markdown
// fences and surrounding prose) and decodes it into v.
func DecodeJSON(text string, v any) error {
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return eris.Wrap(filing.ErrParseFailure, "no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: decode model JSON: %w", filing.ErrParseFailure, err)
	}
	return nil
}

// ExtractJSONObject returns the first balanced {...} span in text.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
