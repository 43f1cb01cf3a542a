package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// Redaction modes.
const (
	RedactionOff      = "off"
	RedactionBalanced = "balanced"
	RedactionStrict   = "strict"
)

var (
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)password=\S+`),
		regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
		regexp.MustCompile(`(?i)token=\S+`),
	}
	base64Run  = regexp.MustCompile(`[A-Za-z0-9+/=]{24,}`)
	emailAddr  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	drivePath  = regexp.MustCompile(`[A-Za-z]:\\\S+`)
	driveSlash = regexp.MustCompile(`[A-Za-z]:/\S+`)
	uncPath    = regexp.MustCompile(`\\\\[A-Za-z0-9_.-]+\\\S+`)
	ipv4Addr   = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3})\.\d{1,3}\b`)
	clockTime  = regexp.MustCompile(`\d{2}:\d{2}:\d{2}`)
)

// Redactor scrubs event messages and user identifiers before they
// reach any artifact. The salt is held here and nowhere else.
type Redactor struct {
	mode string
	salt string
}

// NewRedactor returns a Redactor for mode (off, balanced, strict).
func NewRedactor(mode, salt string) Redactor {
	return Redactor{mode: mode, salt: salt}
}

// Message scrubs secrets, long opaque runs, emails, Windows paths, and
// the last IPv4 octet; strict mode also masks clock times.
func (r Redactor) Message(message string) string {
	if message == "" || r.mode == RedactionOff {
		return message
	}
	redacted := message
	for _, pattern := range secretPatterns {
		redacted = pattern.ReplaceAllString(redacted, "[REDACTED]")
	}
	redacted = base64Run.ReplaceAllString(redacted, "[REDACTED]")
	redacted = emailAddr.ReplaceAllString(redacted, "[REDACTED_EMAIL]")
	redacted = drivePath.ReplaceAllString(redacted, "[REDACTED_PATH]")
	redacted = driveSlash.ReplaceAllString(redacted, "[REDACTED_PATH]")
	redacted = uncPath.ReplaceAllString(redacted, "[REDACTED_PATH]")
	redacted = ipv4Addr.ReplaceAllString(redacted, "${1}.0/24")
	if r.mode == RedactionStrict {
		redacted = clockTime.ReplaceAllString(redacted, "HH:MM:SS")
	}
	return redacted
}

// UserID passes the identifier through except in strict mode, where it
// becomes a salted hash pseudonym.
func (r Redactor) UserID(value *string) *string {
	if value == nil || *value == "" || r.mode != RedactionStrict {
		return value
	}
	digest := sha256.Sum256([]byte(r.salt + *value))
	hashed := "user-" + hex.EncodeToString(digest[:])[:12]
	return &hashed
}
