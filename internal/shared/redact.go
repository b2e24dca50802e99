package shared

import "regexp"

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches common secret-bearing patterns in log/event/error
// strings: generic API keys, Authorization headers, and the key-value shapes
// the network core itself hands to log lines — passwords, captcha answers,
// and access/refresh tokens.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer|password|captcha[_-]?answer|access[_-]?token|refresh[_-]?token\s*[:=]\s*)"?([A-Za-z0-9_\-./+=]{4,})"?`),
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	regexp.MustCompile(`(?i)(token|secret\s*[:=]\s*)"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{10,}`),
}

// Redact replaces secret-bearing patterns in the input string with
// [REDACTED], keeping any key-name prefix so the log line still reads.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}
