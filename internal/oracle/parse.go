package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ppiankov/psyclass/internal/model"
)

// ExtractObject returns the first balanced {...} span in text. Braces inside
// quoted strings do not count.
func ExtractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	var quote rune
	escaped := false
	for i, r := range text[start:] {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}

		switch r {
		case '"', '\'':
			quote = r
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end := start + i + 1
				return text[start:end], true
			}
		}
	}
	return "", false
}

var (
	punctuation = strings.NewReplacer(
		"：", ":",
		"，", ",",
		"‘", `"`,
		"’", `"`,
		"“", `"`,
		"”", `"`,
		"'", `"`,
	)
	trailingComma = regexp.MustCompile(`,\s*}`)
)

// normalize rewrites the near-JSON models tend to produce (full-width
// punctuation, single quotes, trailing commas) into JSON.
func normalize(span string) string {
	return trailingComma.ReplaceAllString(punctuation.Replace(span), "}")
}

// Parse extracts and validates the score map from a model reply.
func Parse(reply string) (model.Scores, error) {
	span, ok := ExtractObject(reply)
	if !ok {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	raw, err := decode(span)
	if err != nil {
		raw, err = decode(normalize(span))
		if err != nil {
			return nil, fmt.Errorf("decode scores: %w", err)
		}
	}

	scores := make(model.Scores, len(raw))
	for key, val := range raw {
		num, ok := val.(json.Number)
		if !ok {
			return nil, fmt.Errorf("dimension %s: score %v is not a number", key, val)
		}
		v, err := toInt(num)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", key, err)
		}
		scores[model.Dimension(strings.TrimSpace(key))] = v
	}

	if err := scores.Validate(); err != nil {
		return nil, err
	}
	return scores, nil
}

// decode keeps numbers as json.Number; quoted scores stay strings
func decode(span string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(span)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func toInt(num json.Number) (int, error) {
	if n, err := num.Int64(); err == nil {
		return int(n), nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, fmt.Errorf("score %q is not a number", num.String())
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("score %s is not an integer", num.String())
	}
	return int(f), nil
}
