package planner

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonArrayRegex extracts a JSON array wrapped in a markdown fence. \x60 is
// a backtick, which raw strings cannot contain.
var jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")

// extractJSONArray finds the JSON array in a model response, which may be
// fenced in markdown or surrounded by conversational text.
func extractJSONArray(response string) (string, error) {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		if m := jsonArrayRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1], nil
		}
	}
	first := strings.Index(response, "[")
	last := strings.LastIndex(response, "]")
	if first == -1 || last <= first {
		return "", fmt.Errorf("no JSON array in model response (truncated): %s", truncate(response, 200))
	}
	return response[first : last+1], nil
}

// planItem accepts either a bare instruction string or a structured object.
type planItem struct {
	Text   string `json:"text"`
	Action string `json:"action"`
	Target string `json:"target"`
	Value  string `json:"value"`
}

func (p *planItem) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Text = s
		return nil
	}
	type plain planItem
	return json.Unmarshal(data, (*plain)(p))
}

// parsePlan decodes a model response into plan items.
func parsePlan(response string) ([]planItem, error) {
	raw, err := extractJSONArray(response)
	if err != nil {
		return nil, err
	}
	var items []planItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w. Extracted JSON (truncated): %s", err, truncate(raw, 500))
	}
	return items, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
