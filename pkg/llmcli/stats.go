package llmcli

// ModelStats accumulates per-model cost and token counts across phases.
type ModelStats struct {
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
}

// PhaseStats is the normalised form of a result event, one per phase
// invocation. IsError is carried as metadata only; phase failure is decided
// by exit code, timeout, or a missing result event.
type PhaseStats struct {
	Phase                    string                `json:"phase,omitempty"`
	SessionID                string                `json:"session_id,omitempty"`
	IsError                  bool                  `json:"is_error"`
	CostUSD                  float64               `json:"cost_usd"`
	DurationMS               int64                 `json:"duration_ms"`
	DurationAPIMS            int64                 `json:"duration_api_ms"`
	NumTurns                 int                   `json:"num_turns"`
	InputTokens              int64                 `json:"input_tokens"`
	OutputTokens             int64                 `json:"output_tokens"`
	CacheReadInputTokens     int64                 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64                 `json:"cache_creation_input_tokens"`
	Models                   map[string]ModelStats `json:"models,omitempty"`
}

// ExtractPhaseStats normalises a result event into a PhaseStats record.
// Returns the zero value when ev is nil or not a result event.
func ExtractPhaseStats(ev *Event) PhaseStats {
	if ev == nil || ev.Type != EventTypeResult {
		return PhaseStats{}
	}

	stats := PhaseStats{
		SessionID:     ev.SessionID,
		IsError:       ev.IsError,
		CostUSD:       ev.TotalCostUSD,
		DurationMS:    ev.DurationMS,
		DurationAPIMS: ev.DurationAPIMS,
		NumTurns:      ev.NumTurns,
	}
	if ev.Usage != nil {
		stats.InputTokens = ev.Usage.InputTokens
		stats.OutputTokens = ev.Usage.OutputTokens
		stats.CacheReadInputTokens = ev.Usage.CacheReadInputTokens
		stats.CacheCreationInputTokens = ev.Usage.CacheCreationInputTokens
	}
	if len(ev.ModelUsage) > 0 {
		stats.Models = make(map[string]ModelStats, len(ev.ModelUsage))
		for model, usage := range ev.ModelUsage {
			stats.Models[model] = ModelStats{
				CostUSD:      usage.CostUSD,
				InputTokens:  usage.InputTokens,
				OutputTokens: usage.OutputTokens,
			}
		}
	}
	return stats
}

// MergePhaseStats adds stats into acc, summing cost, durations, turns, token
// counts, and per-model usage. The accumulator's identity fields (phase,
// session, is_error) are left untouched.
func MergePhaseStats(acc PhaseStats, stats PhaseStats) PhaseStats {
	acc.CostUSD += stats.CostUSD
	acc.DurationMS += stats.DurationMS
	acc.DurationAPIMS += stats.DurationAPIMS
	acc.NumTurns += stats.NumTurns
	acc.InputTokens += stats.InputTokens
	acc.OutputTokens += stats.OutputTokens
	acc.CacheReadInputTokens += stats.CacheReadInputTokens
	acc.CacheCreationInputTokens += stats.CacheCreationInputTokens

	if len(stats.Models) > 0 {
		if acc.Models == nil {
			acc.Models = make(map[string]ModelStats, len(stats.Models))
		}
		for model, usage := range stats.Models {
			merged := acc.Models[model]
			merged.CostUSD += usage.CostUSD
			merged.InputTokens += usage.InputTokens
			merged.OutputTokens += usage.OutputTokens
			acc.Models[model] = merged
		}
	}
	return acc
}
