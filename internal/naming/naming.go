// Package naming derives a human-readable conversation label from whatever
// identity and content signals are available, with a deterministic fallback
// chain. The chain is an ordered list of pure strategies; the first one
// returning a non-empty name wins.
package naming

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// maxNameLen bounds every generated name.
const maxNameLen = 50

// fallbackName is returned when no signal at all is available.
const fallbackName = "Unknown Contact"

// ContactInfo carries whatever identity signals were resolved for the
// counterparty. Any subset may be empty.
type ContactInfo struct {
	DisplayName string
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	Username    string
}

// Generate derives a conversation name. It never returns an empty string
// and never errors; the output is truncated to 50 characters.
func Generate(channelType string, c ContactInfo, messageContent, externalThreadID string) string {
	chain := []func() string{
		func() string { return strings.TrimSpace(c.DisplayName) },
		func() string { return combinedName(c.FirstName, c.LastName) },
		func() string { return FormatPhone(c.Phone) },
		func() string { return nameFromEmail(c.Email) },
		func() string { return channelUsername(channelType, c.Username) },
		func() string { return nameFromContent(messageContent) },
		func() string { return channelFallback(channelType, externalThreadID) },
	}
	for _, f := range chain {
		if name := f(); name != "" {
			return truncate(name, maxNameLen)
		}
	}
	return fallbackName
}

func combinedName(first, last string) string {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	}
	return ""
}

// FormatPhone renders a phone number with country-code-aware grouping.
// NANP numbers get the familiar +1 (XXX) XXX-XXXX shape; everything else is
// grouped in threes after the country code.
func FormatPhone(phone string) string {
	digits := digitsOf(phone)
	if len(digits) < 7 {
		return ""
	}
	if len(digits) == 11 && digits[0] == '1' {
		return fmt.Sprintf("+1 (%s) %s-%s", digits[1:4], digits[4:7], digits[7:])
	}
	// Heuristic split: up to two digits of country code, then groups of three.
	cc, rest := digits[:2], digits[2:]
	var groups []string
	for len(rest) > 3 {
		groups = append(groups, rest[:3])
		rest = rest[3:]
	}
	if rest != "" {
		groups = append(groups, rest)
	}
	return "+" + cc + " " + strings.Join(groups, " ")
}

// nameFromEmail de-slugifies the local part and title-cases it:
// "jane.doe" -> "Jane Doe".
func nameFromEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local := email[:at]
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return ""
	}
	for i, p := range parts {
		parts[i] = titleCase(p)
	}
	return strings.Join(parts, " ")
}

func channelUsername(channelType, username string) string {
	username = strings.TrimSpace(strings.TrimPrefix(username, "@"))
	if username == "" {
		return ""
	}
	label := channelLabel(channelType)
	if label == "" {
		return "@" + username
	}
	return label + " @" + username
}

// introPatterns match short self-introductions in message content.
var introPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is\s+([A-Za-z][A-Za-z'-]{1,30})`),
	regexp.MustCompile(`(?i)\bi(?:'| a)m\s+([A-Za-z][A-Za-z'-]{1,30})\b`),
	regexp.MustCompile(`(?i)\bthis is\s+([A-Za-z][A-Za-z'-]{1,30})\b`),
}

// stopWords are common continuations that follow "i'm" without naming anyone.
var stopWords = map[string]bool{
	"interested": true, "looking": true, "calling": true, "writing": true,
	"sorry": true, "here": true, "not": true, "so": true, "just": true,
	"trying": true, "going": true, "sure": true, "afraid": true,
}

// nameFromContent applies a short heuristic match against message content,
// e.g. "hi, I'm Sarah". Only the first 200 characters are inspected.
func nameFromContent(content string) string {
	if content == "" {
		return ""
	}
	if len(content) > 200 {
		content = content[:200]
	}
	for _, re := range introPatterns {
		m := re.FindStringSubmatch(content)
		if len(m) < 2 {
			continue
		}
		word := strings.ToLower(m[1])
		if stopWords[word] {
			continue
		}
		return titleCase(m[1])
	}
	return ""
}

// channelFallback is the fixed per-channel label suffixed with a short hash
// of the thread id so distinct unnamed threads stay distinguishable.
func channelFallback(channelType, externalThreadID string) string {
	if externalThreadID == "" {
		return ""
	}
	label := channelLabel(channelType)
	if label == "" {
		label = "Chat"
	} else {
		label += " Chat"
	}
	return label + " " + shortHash(externalThreadID)
}

func channelLabel(channelType string) string {
	switch strings.ToLower(channelType) {
	case "whatsapp":
		return "WhatsApp"
	case "messenger":
		return "Messenger"
	case "instagram":
		return "Instagram"
	case "telegram":
		return "Telegram"
	case "email":
		return "Email"
	case "sms":
		return "SMS"
	}
	return ""
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:6]
}

func titleCase(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
