package apperrors

import "regexp"

var (
	secretRefPattern = regexp.MustCompile(`\{SECRET:[0-9a-fA-F-]+:[^}]*\}`)
	filePathPattern  = regexp.MustCompile(`(?:/[\w.\-]+)+\.\w+`)
)

// Sanitize removes secret references and file paths from a message before it
// reaches a user-visible surface (spec.md §7: "Every error that reaches
// user-visible surfaces is sanitized to remove secret references, file
// paths, and stack traces"). Internal operators still get the full detail
// through the audit log, which is never passed through Sanitize.
func Sanitize(message string) string {
	out := secretRefPattern.ReplaceAllString(message, "[redacted]")
	out = filePathPattern.ReplaceAllString(out, "[path]")
	return out
}

// UserFacing renders err as a short, sanitized string suitable for a
// requester. Authorization errors collapse to "forbidden" regardless of
// their internal message.
func UserFacing(err error) string {
	if err == nil {
		return ""
	}
	if Is(err, KindAuthorization) {
		return "forbidden"
	}
	return Sanitize(err.Error())
}
