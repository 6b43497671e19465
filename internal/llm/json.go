package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONOutput decodes a model reply into v, tolerating markdown code
// fences around the payload. Anything that still fails to decode is the
// caller's schema failure to classify.
func ParseJSONOutput(content string, v any) error {
	trimmed := strings.TrimSpace(content)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return fmt.Errorf("model output is not valid JSON: %w", err)
	}
	return nil
}
