// Package privacy scrubs credentials and query strings out of text that
// leaves the process: log lines, error messages and telemetry events.
package privacy

import (
	"net/url"
	"regexp"
)

const redacted = "[REDACTED]"

var (
	urlQueryPattern   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	urlUserinfoRegexp = regexp.MustCompile(`((?:https?|tcp|ssl|mqtts?|wss?|rtsp)://)[^@/\s]+@`)
	secretPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key[=:]\S+`),
		regexp.MustCompile(`(?i)token[=:]\S+`),
		regexp.MustCompile(`(?i)password[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
)

// ScrubMessage removes URL credentials, query strings and obvious secrets
// from free text.
func ScrubMessage(message string) string {
	scrubbed := urlUserinfoRegexp.ReplaceAllString(message, "$1"+redacted+"@")
	scrubbed = urlQueryPattern.ReplaceAllString(scrubbed, "$1?"+redacted)
	for _, re := range secretPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, "[SECRET_REDACTED]")
	}
	return scrubbed
}

// SanitizeURL returns rawURL without userinfo, query or fragment. Camera
// snapshot URLs often carry credentials in either place. Unparseable input
// falls back to ScrubMessage.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return ScrubMessage(rawURL)
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// SanitizedError keeps the original error for errors.Is/As while its
// message is scrubbed.
type SanitizedError struct {
	original     error
	sanitizedMsg string
}

func (e *SanitizedError) Error() string { return e.sanitizedMsg }

func (e *SanitizedError) Unwrap() error { return e.original }

// WrapError returns err with a scrubbed message, or nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{original: err, sanitizedMsg: ScrubMessage(err.Error())}
}
