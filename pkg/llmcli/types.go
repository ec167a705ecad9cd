// Package llmcli provides types and a subprocess runner for the LLM CLI
// streaming JSON protocol. The CLI emits newline-delimited JSON events on
// stdout; the event type determines which fields are populated.
package llmcli

import "encoding/json"

// Event types emitted by the CLI.
const (
	// EventTypeSystem is the initial system event with session info; ignored.
	EventTypeSystem = "system"
	// EventTypeAssistant carries incremental assistant content.
	EventTypeAssistant = "assistant"
	// EventTypeResult is the terminal event with stats and the final text.
	EventTypeResult = "result"
)

// Event represents one newline-delimited JSON chunk from the CLI stdout.
// Unknown keys are tolerated; an empty Type means the line is skipped.
type Event struct {
	Type string `json:"type"`

	// For system events
	SessionID string `json:"session_id,omitempty"`

	// For assistant events
	Message *AssistantMessage `json:"message,omitempty"`

	// For result events. Result can be either a string or an object, so it
	// is kept raw and accessed through ResultText.
	Result        json.RawMessage            `json:"result,omitempty"`
	Subtype       string                     `json:"subtype,omitempty"`
	IsError       bool                       `json:"is_error,omitempty"`
	TotalCostUSD  float64                    `json:"total_cost_usd,omitempty"`
	DurationMS    int64                      `json:"duration_ms,omitempty"`
	DurationAPIMS int64                      `json:"duration_api_ms,omitempty"`
	NumTurns      int                        `json:"num_turns,omitempty"`
	Usage         *Usage                     `json:"usage,omitempty"`
	ModelUsage    map[string]ModelUsageStats `json:"modelUsage,omitempty"`

	// Raw line for fallback parsing.
	Raw json.RawMessage `json:"-"`
}

// AssistantMessage contains the assistant's response content.
type AssistantMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content,omitempty"`
	Model   string         `json:"model,omitempty"`
}

// ContentBlock represents a block of content in an assistant event.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// Usage contains token usage information from a result event.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
}

// ModelUsageStats contains per-model cost and token counts from a result event.
type ModelUsageStats struct {
	CostUSD      float64 `json:"costUSD"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
}

// ResultText returns the result payload as a string. String payloads are
// returned as-is; object payloads fall back to their raw JSON.
func (e *Event) ResultText() string {
	if len(e.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Result, &s); err == nil {
		return s
	}
	return string(e.Result)
}

// ParseEvent parses one stdout line into an Event. Lines that are not JSON
// objects or carry no type are reported as unparseable and skipped by callers.
func ParseEvent(line []byte) (*Event, bool) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, false
	}
	if ev.Type == "" {
		return nil, false
	}
	ev.Raw = append(json.RawMessage(nil), line...)
	return &ev, true
}
