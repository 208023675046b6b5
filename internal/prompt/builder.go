// internal/prompt/builder.go
package prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/arcadegent/internal/types"
)

// Builder assembles token-budgeted prompts for the LLM.
type Builder struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a prompt builder. model selects the tokenizer (falling back
// to cl100k_base for unknown models), maxTokens is the model's context
// window and reserve is held back for the model's response.
func New(model string, maxTokens, reserve int) (*Builder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Builder{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

// countTokens returns the token count for a string.
func (b *Builder) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Recap renders the most recent non-tool turns that fit the budget as a
// plain transcript block, oldest first. Used to give the summarizer
// conversational context without blowing the context window.
func (b *Builder) Recap(turns []types.Turn) string {
	budget := b.maxTokens - b.reserve
	var lines []string
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		if turn.Role == types.RoleTool {
			continue
		}
		line := string(turn.Role) + ": " + turn.Content
		cost := b.countTokens(line)
		if cost > budget {
			break
		}
		budget -= cost
		lines = append(lines, line)
	}
	// Reverse back into chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}
