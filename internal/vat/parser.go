package vat

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoJSONObject means the model output carried no {...} block at all.
	// The extractor treats it as "not a VAT certificate".
	ErrNoJSONObject = errors.New("no JSON object in model response")

	// ErrUndecodable means a {...} block was present but could not be turned
	// into a complete field set.
	ErrUndecodable = errors.New("model response JSON is undecodable")
)

// greedyObject matches from the first '{' to the last '}'.
var greedyObject = regexp.MustCompile(`\{[\s\S]*\}`)

// FindJSONObject returns the JSON object embedded in free-form text.
// The greedy block is preferred; when it does not parse, the first balanced
// block is tried so trailing braces in prose don't spoil a valid object.
func FindJSONObject(text string) (string, bool) {
	text = stripFences(text)

	block := greedyObject.FindString(text)
	if block == "" {
		return "", false
	}
	if json.Valid([]byte(block)) {
		return block, true
	}
	if balanced, ok := firstBalancedObject(text); ok && json.Valid([]byte(balanced)) {
		return balanced, true
	}
	return block, true
}

// ParseFields locates the JSON object in the model output and decodes it.
func ParseFields(text string) (Fields, error) {
	block, ok := FindJSONObject(text)
	if !ok {
		return Fields{}, ErrNoJSONObject
	}

	var raw any
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if err := validateFields(raw); err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	var fields Fields
	if err := json.Unmarshal([]byte(block), &fields); err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	fields.trim()
	if fields.TaxPayerName == "" || fields.TINNumber == "" || fields.VATNumber == "" {
		return Fields{}, fmt.Errorf("%w: blank field after trimming", ErrUndecodable)
	}
	return fields, nil
}

// ParseVerdict decodes the classification call's JSON-mode answer.
func ParseVerdict(text string) (Verdict, error) {
	block, ok := FindJSONObject(text)
	if !ok {
		return Verdict{}, ErrNoJSONObject
	}
	var v Verdict
	if err := json.Unmarshal([]byte(block), &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return v, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// firstBalancedObject scans for the first brace-balanced object, skipping
// braces inside JSON strings.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
