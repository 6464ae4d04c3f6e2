package cache

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/auditvault/auditperf/pkg/errors"
)

// validatePattern rejects patterns that are empty or use glob syntax beyond
// the '*' wildcard. The accepted subset means the same thing to the local
// matcher and to Redis SCAN MATCH.
func validatePattern(pattern string) error {
	if pattern == "" {
		return errors.NewError(errors.ErrCodeInvalidPattern, "invalidation pattern is empty").
			WithComponent("cache")
	}
	for _, r := range pattern {
		if strings.ContainsRune(`?[]\`, r) || unicode.IsControl(r) {
			return errors.NewError(errors.ErrCodeInvalidPattern, "unsupported character in invalidation pattern").
				WithComponent("cache").
				WithDetail("pattern", pattern).
				WithDetail("character", string(r))
		}
	}
	return nil
}

// compilePattern turns a '*' glob into an anchored regular expression over
// prefixed keys. The prefix is matched literally.
func compilePattern(prefix, pattern string) (*regexp.Regexp, error) {
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}

	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("(?s)^" + regexp.QuoteMeta(prefix) + strings.Join(parts, ".*") + "$"), nil
}

// scanMatch builds the Redis MATCH argument for a validated pattern, escaping
// glob metacharacters in the prefix.
func scanMatch(prefix, pattern string) string {
	var b strings.Builder
	for _, r := range prefix {
		if strings.ContainsRune(`*?[]\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteString(pattern)
	return b.String()
}
