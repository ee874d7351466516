// Package parser extracts structured replies from collaborator text.
package parser

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoJSON is returned when a reply contains no JSON object at all.
var ErrNoJSON = errors.New("no JSON object found in response")

var (
	openFenceRe  = regexp.MustCompile("^```[a-zA-Z]*[ \t]*\n?")
	closeFenceRe = regexp.MustCompile("\n?```$")
)

// stripFences removes a markdown code fence such as ```json ... ``` wrapping
// the whole reply. Backticks inside the content are left alone.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = openFenceRe.ReplaceAllString(text, "")
	return strings.TrimSpace(closeFenceRe.ReplaceAllString(text, ""))
}

// ExtractJSON returns the first JSON object found in raw. Replies wrapped in
// code fences or surrounded by prose are accepted.
func ExtractJSON(raw string) (string, error) {
	cleaned := stripFences(raw)
	if strings.HasPrefix(cleaned, "{") && json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}
	for start := strings.IndexByte(cleaned, '{'); start >= 0; {
		if end := matchBrace(cleaned, start); end > 0 {
			candidate := cleaned[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(cleaned[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSON
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// stringList accepts either a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one != "" {
			*l = stringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// number accepts a JSON number or a numeric string.
type number struct {
	value float64
	set   bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		n.value, n.set = f, true
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	n.value, n.set = f, true
	return nil
}
