package filter

import (
	"encoding/json"
	"strings"

	"github.com/FirebirdSQL/fblib/pkg/types"
)

// RedactConfig controls which payload fields are blanked before a session
// is exported or served. Trace logs carry live query parameter values and
// context variables, which is exactly the data an audit export must not leak.
type RedactConfig struct {
	Fields      []string
	Replacement string
}

// DefaultRedactConfig blanks parameter values, context variable values and
// service query payloads.
func DefaultRedactConfig() RedactConfig {
	return RedactConfig{
		Fields:      []string{"str", "int", "dec", "time", "value", "sent", "received"},
		Replacement: "***REDACTED***",
	}
}

// Redact replaces sensitive payload fields in every record. Records whose
// payloads carry none of the fields pass through unchanged.
func Redact(recs []types.EventRecord, cfg RedactConfig) []types.EventRecord {
	set := toLowerSet(cfg.Fields)
	out := make([]types.EventRecord, len(recs))
	for i, rec := range recs {
		out[i] = rec
		out[i].Payload = redactPayload(rec.Payload, set, cfg.Replacement)
	}
	return out
}

func redactPayload(payload json.RawMessage, set map[string]struct{}, replacement string) json.RawMessage {
	if len(payload) == 0 {
		return payload
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return payload
	}
	v = redactJSONValue(v, set, replacement)
	out, err := json.Marshal(v)
	if err != nil {
		return payload
	}
	return out
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func redactJSONValue(v interface{}, set map[string]struct{}, replacement string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			if _, ok := set[strings.ToLower(k)]; ok {
				val[k] = replacement
				continue
			}
			val[k] = redactJSONValue(v2, set, replacement)
		}
		return val
	case []interface{}:
		for i := range val {
			val[i] = redactJSONValue(val[i], set, replacement)
		}
		return val
	default:
		return val
	}
}
