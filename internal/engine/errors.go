package engine

import "strings"

// ErrorClass buckets a failed fetch for retry-policy purposes.
type ErrorClass string

// Dispatch failure classes. The first seven classify raised errors; the last
// three classify degraded-but-completed results reported by an agent.
const (
	ErrClassNetwork   ErrorClass = "network_error"
	ErrClassDenied    ErrorClass = "access_denied"
	ErrClassNotFound  ErrorClass = "not_found"
	ErrClassServer    ErrorClass = "server_error"
	ErrClassCaptcha   ErrorClass = "captcha_detected"
	ErrClassParsing   ErrorClass = "parsing_error"
	ErrClassUnknown   ErrorClass = "unknown_error"
	ErrClassNoContent ErrorClass = "no_content"
	ErrClassTimeout   ErrorClass = "timeout"
	ErrClassSoft      ErrorClass = "unknown"
)

var classPatterns = []struct {
	class    ErrorClass
	patterns []string
}{
	{ErrClassNetwork, []string{"connection", "timeout", "deadline", "socket", "reset", "eof", "refused", "no such host"}},
	{ErrClassDenied, []string{"403", "forbidden", "401", "unauthorized"}},
	{ErrClassNotFound, []string{"404", "not found"}},
	{ErrClassServer, []string{"500", "server error", "502", "bad gateway", "503"}},
	{ErrClassCaptcha, []string{"captcha", "robot", "verification"}},
	{ErrClassParsing, []string{"parse", "xpath", "selector", "element"}},
}

// ClassifyError maps free-text error messages into the retry taxonomy.
// Agents should set FetchResult.ErrorCode directly wherever they can; this is
// the fallback for errors that escape without a structured code.
func ClassifyError(message string) ErrorClass {
	message = strings.ToLower(message)
	for _, entry := range classPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(message, p) {
				return entry.class
			}
		}
	}
	return ErrClassUnknown
}
