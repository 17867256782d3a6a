package roleexec

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractJSON scans combined stdout+stderr for the last well-formed JSON
// object, searching whole lines first, then fenced ```json blocks, then
// the latest balanced {...} substring — spec.md §4.5 step 4. Returns an
// empty map if nothing parses.
func ExtractJSON(combined string) map[string]any {
	if obj, ok := lastObjectFromLines(combined); ok {
		return obj
	}
	if obj, ok := lastObjectFromFencedBlocks(combined); ok {
		return obj
	}
	if obj, ok := lastBalancedObject(combined); ok {
		return obj
	}
	return map[string]any{}
}

func lastObjectFromLines(combined string) (map[string]any, bool) {
	lines := strings.Split(combined, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if obj, ok := tryParseObject(line); ok {
			return obj, true
		}
	}
	return nil, false
}

func lastObjectFromFencedBlocks(combined string) (map[string]any, bool) {
	matches := fencedJSONBlock.FindAllStringSubmatch(combined, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if obj, ok := tryParseObject(matches[i][1]); ok {
			return obj, true
		}
	}
	return nil, false
}

// lastBalancedObject scans for the last top-level balanced {...}
// substring and attempts to parse it, backing off to the previous close
// brace on failure.
func lastBalancedObject(combined string) (map[string]any, bool) {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escape := false

	for i, r := range combined {
		if inString {
			if escape {
				escape = false
			} else if r == '\\' {
				escape = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, combined[start:i+1])
				}
			}
		}
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		if obj, ok := tryParseObject(candidates[i]); ok {
			return obj, true
		}
	}
	return nil, false
}

func tryParseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '{' {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
