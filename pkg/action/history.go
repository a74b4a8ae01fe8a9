package action

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is the result of acting on an intent
type Outcome struct {
	Success bool
	Detail  string
}

// Succeeded returns a successful outcome
func Succeeded(detail string) Outcome { return Outcome{Success: true, Detail: detail} }

// Failed returns a failed outcome
func Failed(detail string) Outcome { return Outcome{Success: false, Detail: detail} }

// Entry pairs an intent with what happened when it was acted on
type Entry struct {
	Intent  Intent
	Outcome Outcome
}

// MarshalJSON flattens the entry into the intent's wire fields plus the outcome
func (e Entry) MarshalJSON() ([]byte, error) {
	out := map[string]any{"success": e.Outcome.Success}
	if e.Intent != nil {
		for k, v := range Encode(e.Intent) {
			out[k] = v
		}
	}
	if e.Outcome.Detail != "" {
		out["detail"] = e.Outcome.Detail
	}
	return json.Marshal(out)
}

// History is the append-only record of one command's actions. It is owned by
// the control loop; the resolver only sees snapshots.
type History struct {
	entries []Entry
}

// Append adds an entry
func (h *History) Append(i Intent, o Outcome) {
	h.entries = append(h.entries, Entry{Intent: i, Outcome: o})
}

// Len returns the number of entries
func (h *History) Len() int { return len(h.entries) }

// Entries returns a copy of the entries
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Reset clears the history for a new command
func (h *History) Reset() { h.entries = nil }

// formatHistory renders entries for the action prompt, one per line
func formatHistory(entries []Entry) string {
	if len(entries) == 0 {
		return "    None"
	}

	lines := make([]string, 0, len(entries))
	for i, e := range entries {
		var desc string
		switch v := e.Intent.(type) {
		case PointerTarget:
			desc = fmt.Sprintf("{'action': '%s', 'target': '%s'}", v.Tag(), v.Description)
		case DirectInput:
			field := "text"
			if v.Kind == KeyPress {
				field = "button"
			}
			desc = fmt.Sprintf("{'action': '%s', '%s': '%s'}", v.Tag(), field, v.Payload)
		case Fail:
			desc = fmt.Sprintf("{'action': '%s', 'reason': '%s'}", v.Tag(), v.Reason)
		case Complete:
			desc = fmt.Sprintf("{'action': '%s'}", v.Tag())
		}

		result := "succeeded"
		if !e.Outcome.Success {
			result = "FAILED"
		}
		if e.Outcome.Detail != "" {
			result += ": " + e.Outcome.Detail
		}
		lines = append(lines, fmt.Sprintf("    %d. %s -> %s", i+1, desc, result))
	}
	return strings.Join(lines, "\n")
}
