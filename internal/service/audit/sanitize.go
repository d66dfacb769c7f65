package audit

import (
	"regexp"
	"strings"

	"github.com/jwalitptl/coach-realtime/internal/model"
)

const Redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"password":   {},
	"token":      {},
	"secret":     {},
	"key":        {},
	"ssn":        {},
	"creditcard": {},
	"cardnumber": {},
	"ccnumber":   {},
	"cvv":        {},
	"pan":        {},
}

var sensitiveSuffixes = []string{"password", "token", "secret", "key"}

var (
	cardFragments = []string{"creditcard", "cardnumber"}
	// ccnum, ccno, cardnum, cardno and friends
	cardShortForm = regexp.MustCompile(`^(cc|card)(num|number|no)$`)
)

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

// IsSensitive reports whether a details key must never be stored in clear.
// Keys are compared lower-cased with '_' and '-' removed, so "API-Key" and
// "refresh_token" both match.
func IsSensitive(key string) bool {
	k := normalizeKey(key)
	if _, ok := sensitiveKeys[k]; ok {
		return true
	}
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	for _, frag := range cardFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return cardShortForm.MatchString(k)
}

// Sanitize returns a copy of details with sensitive values replaced by
// Redacted at any depth. The input is not modified.
func Sanitize(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if IsSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return Sanitize(val)
	case model.JSONMap:
		return Sanitize(val)
	case map[string]string:
		m := make(map[string]interface{}, len(val))
		for k, s := range val {
			m[k] = s
		}
		return Sanitize(m)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Sanitize(item)
		}
		return out
	default:
		return v
	}
}
