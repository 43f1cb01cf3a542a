package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	digitRun      = regexp.MustCompile(`\d+`)
)

// normalizeMessageTemplate lowercases a message and replaces every
// digit run with <n>, so "Crash after 37 retries" and "Crash after 4
// retries" share a template.
func normalizeMessageTemplate(message string) string {
	normalized := strings.TrimSpace(strings.ToLower(message))
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")
	return digitRun.ReplaceAllString(normalized, "<n>")
}

// SignatureBasis is the exact material the signature hash covers, kept
// alongside the hash for explainability.
type SignatureBasis struct {
	Provider        string `json:"provider"`
	EventID         any    `json:"event_id"`
	MessageTemplate string `json:"message_template"`
}

// Signature identifies a cluster: the hash groups, the key explains.
type Signature struct {
	SignatureKey  string `json:"signature_key"`
	SignatureHash string `json:"signature_hash"`
}

// signatureForEvent derives the cluster signature of an incident from
// its first evidence event.
func signatureForEvent(provider string, eventID any, message string) (string, SignatureBasis) {
	template := normalizeMessageTemplate(message)
	basis := SignatureBasis{Provider: provider, EventID: eventID, MessageTemplate: template}
	text := provider + "|" + formatEventID(eventID) + "|" + template
	digest := sha256.Sum256([]byte(text))
	return hex.EncodeToString(digest[:])[:12], basis
}

// signatureKey renders the human-readable form, with the template
// truncated so pathological messages stay bounded.
func signatureKey(basis SignatureBasis) string {
	template := basis.MessageTemplate
	if len(template) > 200 {
		template = template[:200]
	}
	return basis.Provider + ":" + formatEventID(basis.EventID) + "|" + template
}
