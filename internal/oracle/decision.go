package oracle

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseState tags the outcome of decoding an oracle reply. Consumers match
// exhaustively on it instead of assuming well-formed output.
type ParseState int

const (
	// ParsedDecision means a decision map was recovered
	ParsedDecision ParseState = iota
	// Malformed means nothing decodable was found in the reply
	Malformed
)

// Decision is the decoded key/value payload of a decision block.
type Decision struct {
	State  ParseState
	Fields map[string]interface{}
}

var (
	reYamlTag   = regexp.MustCompile(`(?is)<yaml>(.*?)</yaml>`)
	reYamlFence = regexp.MustCompile("(?is)```(?:yaml|yml)\\s*(.*?)```")
	reJSONBody  = regexp.MustCompile(`(?s)\{.*\}`)
	reLooseKV   = regexp.MustCompile(`(?im)^\s*([a-z_][a-z0-9_]*)\s*:\s*(.+?)\s*$`)
)

// ParseDecision extracts a decision map from an oracle reply. Recognized
// carriers, tried in order: a <yaml> block, a fenced yaml block, an embedded
// JSON object, and finally loose "key: value" lines. Replies that match none
// of them come back Malformed and the caller applies its fail-closed default.
func ParseDecision(reply string) Decision {
	body := reply
	if block, ok := summaryBlock(reply); ok {
		body = block
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Decision{State: Malformed}
	}

	if m := reYamlTag.FindStringSubmatch(body); m != nil {
		if fields := tryYAML(m[1]); fields != nil {
			return Decision{State: ParsedDecision, Fields: fields}
		}
	}
	if m := reYamlFence.FindStringSubmatch(body); m != nil {
		if fields := tryYAML(m[1]); fields != nil {
			return Decision{State: ParsedDecision, Fields: fields}
		}
	}
	if m := reJSONBody.FindString(body); m != "" {
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(m), &fields); err == nil && len(fields) > 0 {
			return Decision{State: ParsedDecision, Fields: fields}
		}
	}
	if kvs := reLooseKV.FindAllStringSubmatch(body, -1); len(kvs) > 0 {
		fields := make(map[string]interface{}, len(kvs))
		for _, kv := range kvs {
			fields[strings.ToLower(kv[1])] = strings.Trim(kv[2], `"'`)
		}
		if len(fields) > 0 {
			return Decision{State: ParsedDecision, Fields: fields}
		}
	}
	return Decision{State: Malformed}
}

func tryYAML(raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var fields map[string]interface{}
	if err := yaml.Unmarshal([]byte(raw), &fields); err != nil || len(fields) == 0 {
		return nil
	}
	return fields
}

// String returns the string value of a field, trimmed
func (d Decision) String(key string) string {
	v, ok := d.Fields[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Bool returns the boolean value of a field, treating the usual textual
// affirmatives as true.
func (d Decision) Bool(key string) bool {
	switch v := d.Fields[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true
		}
	}
	return false
}

// Float returns the float value of a field, 0 when absent or unparseable
func (d Decision) Float(key string) float64 {
	switch v := d.Fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return 0
}

// StringList returns a field as a list of non-empty strings; scalar string
// fields are split on commas.
func (d Decision) StringList(key string) []string {
	var out []string
	switch v := d.Fields[key].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					out = append(out, s)
				}
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
