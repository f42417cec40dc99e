package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayNameWins(t *testing.T) {
	got := Generate("whatsapp", ContactInfo{DisplayName: "Alice Smith", Phone: "+27720720045"}, "", "t1")
	assert.Equal(t, "Alice Smith", got)
}

func TestCombinedFirstLast(t *testing.T) {
	got := Generate("whatsapp", ContactInfo{FirstName: "Jane", LastName: "Doe"}, "", "t1")
	assert.Equal(t, "Jane Doe", got)

	got = Generate("whatsapp", ContactInfo{FirstName: "Jane"}, "", "t1")
	assert.Equal(t, "Jane", got)
}

func TestPhoneOnlyNeverUnknown(t *testing.T) {
	got := Generate("whatsapp", ContactInfo{Phone: "+27720720045"}, "", "t1")
	assert.Equal(t, "+27 720 720 045", got)
	assert.NotEqual(t, "Unknown Contact", got)
}

func TestNANPPhoneFormatting(t *testing.T) {
	got := Generate("sms", ContactInfo{Phone: "+14155551234"}, "", "t1")
	assert.Equal(t, "+1 (415) 555-1234", got)
}

func TestEmailLocalPartDeslugified(t *testing.T) {
	got := Generate("email", ContactInfo{Email: "jane.doe@example.com"}, "", "t1")
	assert.Equal(t, "Jane Doe", got)

	got = Generate("email", ContactInfo{Email: "sales_team-eu@corp.io"}, "", "t1")
	assert.Equal(t, "Sales Team Eu", got)
}

func TestChannelUsername(t *testing.T) {
	got := Generate("instagram", ContactInfo{Username: "@wanderer_99"}, "", "t1")
	assert.Equal(t, "Instagram @wanderer_99", got)
}

func TestContentIntroduction(t *testing.T) {
	got := Generate("whatsapp", ContactInfo{}, "hi, I'm Sarah and I saw your listing", "t1")
	assert.Equal(t, "Sarah", got)

	got = Generate("whatsapp", ContactInfo{}, "Hello, my name is Thabo", "t1")
	assert.Equal(t, "Thabo", got)
}

func TestContentStopWordsSkipped(t *testing.T) {
	got := Generate("whatsapp", ContactInfo{}, "I'm interested in the apartment", "thread-x")
	assert.NotEqual(t, "Interested", got)
	assert.True(t, strings.HasPrefix(got, "WhatsApp Chat "), "got %q", got)
}

func TestChannelFallbackWithHash(t *testing.T) {
	a := Generate("whatsapp", ContactInfo{}, "", "thread-a")
	b := Generate("whatsapp", ContactInfo{}, "", "thread-b")

	assert.True(t, strings.HasPrefix(a, "WhatsApp Chat "))
	assert.NotEqual(t, a, b, "distinct threads must get distinct fallback names")
	// Deterministic.
	assert.Equal(t, a, Generate("whatsapp", ContactInfo{}, "", "thread-a"))
}

func TestNothingAtAllGivesFixedFallback(t *testing.T) {
	got := Generate("whatsapp", ContactInfo{}, "", "")
	assert.Equal(t, "Unknown Contact", got)
}

func TestTruncatedTo50(t *testing.T) {
	long := strings.Repeat("A very long business name ", 5)
	got := Generate("email", ContactInfo{DisplayName: long}, "", "t1")
	assert.LessOrEqual(t, len([]rune(got)), 50)
	assert.NotEmpty(t, got)
}

func TestUnknownChannelFallback(t *testing.T) {
	got := Generate("carrier-pigeon", ContactInfo{}, "", "t9")
	assert.True(t, strings.HasPrefix(got, "Chat "), "got %q", got)
}
