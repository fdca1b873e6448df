package mythos

// Suggestion proposes a new persona for a need the current constellation
// does not cover. The fields are placeholders; no gap analysis is done.
type Suggestion struct {
	SuggestedName string   `json:"suggested_name" yaml:"suggested_name"`
	Role          string   `json:"role" yaml:"role"`
	Voice         string   `json:"voice" yaml:"voice"`
	Essence       string   `json:"essence" yaml:"essence"`
	Constraints   []string `json:"constraints" yaml:"constraints"`
	Rationale     string   `json:"rationale" yaml:"rationale"`
}

// SuggestEmergence returns a placeholder persona for need, embedded
// verbatim. It records nothing in the event log.
func (e *Engine) SuggestEmergence(need string) Suggestion {
	e.logger.Info("emergence requested", "need", need)
	e.journal.Info("emergence requested: %s", need)
	return Suggestion{
		SuggestedName: "Generated by context",
		Role:          "Addresses: " + need,
		Voice:         "To be discovered through use",
		Essence:       "Emergent from necessity",
		Constraints:   []string{"Prepend nametag", "Undefined until needed"},
		Rationale:     "Current constellation lacks coverage for: " + need,
	}
}
