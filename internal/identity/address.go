package identity

import "strings"

// Provider domain suffixes that mark an address as provider-internal rather
// than an email.
var providerSuffixes = []string{
	"@s.whatsapp.net",
	"@c.us",
	"@g.us",
	"@lid",
	"@broadcast",
}

// groupSuffixes mark group-chat addressing.
var groupSuffixes = []string{"@g.us"}

// IsGroupAddress reports whether the address carries a group-domain suffix.
func IsGroupAddress(addr string) bool {
	for _, s := range groupSuffixes {
		if strings.HasSuffix(addr, s) {
			return true
		}
	}
	return false
}

// ExtractPhone strips known provider suffixes, retains only digits, and
// validates length in [7,15]. Returns "+<digits>" or "" when the address
// does not encode a valid phone number.
func ExtractPhone(addr string) string {
	if addr == "" || IsGroupAddress(addr) {
		return ""
	}
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		if !hasProviderSuffix(addr) {
			// Looks like an email, not a provider phone address.
			return ""
		}
		addr = addr[:at]
	}
	digits := digitsOf(addr)
	if len(digits) < 7 || len(digits) > 15 {
		return ""
	}
	return "+" + digits
}

func hasProviderSuffix(addr string) bool {
	for _, s := range providerSuffixes {
		if strings.HasSuffix(addr, s) {
			return true
		}
	}
	return false
}

func isEmailAddress(addr string) bool {
	at := strings.IndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	if hasProviderSuffix(addr) {
		return false
	}
	return strings.ContainsRune(addr[at+1:], '.')
}

// sameAddress compares two addresses by their digit content when both encode
// numbers, otherwise by case-insensitive string equality.
func sameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	da, db := digitsOf(stripSuffix(a)), digitsOf(stripSuffix(b))
	if da != "" && db != "" {
		return da == db
	}
	return strings.EqualFold(a, b)
}

func stripSuffix(addr string) string {
	if at := strings.IndexByte(addr, '@'); at >= 0 && hasProviderSuffix(addr) {
		return addr[:at]
	}
	return addr
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
