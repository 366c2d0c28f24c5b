package stages

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

// decodeJSON decodes the span between the first '{' and the last '}' of text.
// Models often wrap JSON in prose or code fences; anything outside the span is ignored.
func decodeJSON(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return fmt.Errorf("%w: no JSON object in response", orchestrator.ErrInvalidOutput)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrInvalidOutput, err)
	}
	return nil
}

// invalid reports a schema violation in a decoded response.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", orchestrator.ErrInvalidOutput, fmt.Sprintf(format, args...))
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// avoid splitting a multi-byte rune
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

func joinOr(items []string, sep, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, sep)
}
