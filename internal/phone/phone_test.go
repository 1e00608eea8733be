package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatWhatsApp_Success(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"already international", "+917889484343", "whatsapp:+917889484343"},
		{"plain local number", "7889484343", "whatsapp:+917889484343"},
		{"local with trunk zero", "07889484343", "whatsapp:+917889484343"},
		{"bare digits with country code", "917889484343", "whatsapp:+917889484343"},
		{"spaces and dashes", " +91 788-948-4343 ", "whatsapp:+917889484343"},
		{"parentheses", "(0) 7889 484343", "whatsapp:+917889484343"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := FormatWhatsApp(tt.raw, "91")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, addr)
		})
	}
}

func TestFormatSMS_Success(t *testing.T) {
	addr, err := FormatSMS("7889484343", "91")
	require.NoError(t, err)
	assert.Equal(t, "+917889484343", addr)
}

func TestFormat_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"email address", "john@example.com"},
		{"bare country code", "+91"},
		{"bare country code without plus", "91"},
		{"too short", "12345"},
		{"no digits", "+-()"},
		{"long number with unknown prefix", "99912345678901"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FormatWhatsApp(tt.raw, "91")
			assert.Error(t, err)

			_, err = FormatSMS(tt.raw, "91")
			assert.Error(t, err)
		})
	}
}

func TestFormat_DefaultCountryCodeFallback(t *testing.T) {
	// 未指定默认国家码时回落到 DefaultCountryCode
	addr, err := FormatSMS("7889484343", "")
	require.NoError(t, err)
	assert.Equal(t, "+917889484343", addr)
}

func TestDedupKey_Equivalence(t *testing.T) {
	// 同一号码的不同录入形式推导出相同的键
	variants := []string{
		"+917889484343",
		"917889484343",
		"7889484343",
		"07889484343",
		" +91 788-948-4343 ",
	}

	for _, v := range variants {
		assert.Equal(t, "7889484343", DedupKey(v), "variant %q", v)
	}
}

func TestDedupKey_UnknownPrefixKeepsLastTenDigits(t *testing.T) {
	assert.Equal(t, "2345678901", DedupKey("999 12345678901"))
}

func TestDedupKey_ShortAndEmptyInputs(t *testing.T) {
	assert.Equal(t, "", DedupKey(""))
	assert.Equal(t, "", DedupKey("abc"))
	assert.Equal(t, "12345", DedupKey("12345"))
}
