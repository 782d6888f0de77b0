package wa

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// CanonicalJID normalizes any recipient identifier (bare phone number,
// number with punctuation, or full JID) to the canonical direct-chat JID the
// transport requires. Every send goes through this.
func CanonicalJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("empty recipient")
	}

	if strings.ContainsRune(raw, '@') {
		jid, err := types.ParseJID(raw)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("parse JID %q: %w", raw, err)
		}
		return jid.ToNonAD(), nil
	}

	var digits strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return types.EmptyJID, fmt.Errorf("no digits in recipient %q", raw)
	}
	return types.NewJID(digits.String(), types.DefaultUserServer), nil
}

// CanonicalAddress is CanonicalJID rendered as a string.
func CanonicalAddress(raw string) (string, error) {
	jid, err := CanonicalJID(raw)
	if err != nil {
		return "", err
	}
	return jid.String(), nil
}
