// types.go defines the OpenAI-compatible request and streaming chunk types
// used against the OpenRouter chat completions API.
package llm

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the request body for the streaming chat completions endpoint.
type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Stream           bool      `json:"stream"`
	IncludeReasoning bool      `json:"include_reasoning"`
}

// Message represents a chat message in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionChunk is a single chunk from a streaming response.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice represents a streaming delta choice.
type ChunkChoice struct {
	Index        int          `json:"index"`
	Delta        MessageDelta `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

// MessageDelta contains incremental text from a streaming chunk. Reasoning
// models send their thinking in Reasoning before any Content arrives.
type MessageDelta struct {
	Role      string `json:"role,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Delta is one decoded increment of model output.
type Delta struct {
	Reasoning string
	Content   string
}

// Empty reports whether the delta carries no text at all.
func (d Delta) Empty() bool {
	return d.Reasoning == "" && d.Content == ""
}

// delta flattens the first choice of a chunk. Providers stream a single
// choice; anything beyond index 0 is ignored.
func (c ChatCompletionChunk) delta() Delta {
	if len(c.Choices) == 0 {
		return Delta{}
	}
	d := c.Choices[0].Delta
	return Delta{Reasoning: d.Reasoning, Content: d.Content}
}
