// Package phone 提供联系号码的规范化处理：
// 出站地址格式化（WhatsApp / SMS）与去重键推导。
// 两类函数均为纯函数，不依赖其他组件。
package phone

import (
	"fmt"
	"strings"
)

// DefaultCountryCode 默认国家码（仅应用于不带国家码的本地号码）
const DefaultCountryCode = "91"

// countryCodePrefixes 已识别的国家码前缀（长度 1-2），
// 匹配时要求总位数 = 前缀位数 + 10 位本地号码
var countryCodePrefixes = []string{"91", "92", "94", "44", "61", "65", "1", "7"}

// FormatWhatsApp 将原始号码格式化为 WhatsApp 地址（whatsapp:+E164）
func FormatWhatsApp(raw, defaultCC string) (string, error) {
	e164, err := formatE164(raw, defaultCC)
	if err != nil {
		return "", err
	}
	return "whatsapp:" + e164, nil
}

// FormatSMS 将原始号码格式化为 SMS 地址（+E164）
func FormatSMS(raw, defaultCC string) (string, error) {
	return formatE164(raw, defaultCC)
}

// formatE164 构造完整国际格式号码
func formatE164(raw, defaultCC string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("phone number is empty")
	}
	if strings.Contains(trimmed, "@") {
		return "", fmt.Errorf("phone number looks like an email address")
	}
	if defaultCC == "" {
		defaultCC = DefaultCountryCode
	}

	hasPlus := strings.HasPrefix(trimmed, "+")
	digits := digitsOnly(trimmed)
	if digits == "" {
		return "", fmt.Errorf("phone number contains no digits")
	}

	// 纯国家码（如 "+91"）不构成有效号码
	for _, cc := range countryCodePrefixes {
		if digits == cc {
			return "", fmt.Errorf("phone number is a bare country code")
		}
	}
	if len(digits) < 7 {
		return "", fmt.Errorf("phone number too short")
	}

	switch {
	case hasPlus:
		// 已带 "+"：视为完整国际格式
		return "+" + digits, nil
	case strings.HasPrefix(digits, "0"):
		// 本地拨号前缀 0：去零后补默认国家码
		local := strings.TrimLeft(digits, "0")
		if len(local) < 7 {
			return "", fmt.Errorf("phone number too short")
		}
		return "+" + defaultCC + local, nil
	default:
		// 裸数字已带可识别国家码前缀
		if cc, ok := matchCountryCode(digits); ok {
			_ = cc
			return "+" + digits, nil
		}
		// 不带国家码的本地号码：补默认国家码
		if len(digits) > 10 {
			return "", fmt.Errorf("unrecognized country code prefix")
		}
		return "+" + defaultCC + digits, nil
	}
}

// DedupKey 推导规范化去重键：去掉所有非数字字符后，剥离可识别的国家码
// 前缀（按总位数匹配）；无法识别前缀时保留末 10 位。
// 同一号码无论录入时是否带国家码、是否带前导零，得到相同的键。
func DedupKey(raw string) string {
	digits := digitsOnly(raw)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, "0") && len(digits) > 10 {
		digits = strings.TrimLeft(digits, "0")
	}
	if cc, ok := matchCountryCode(digits); ok {
		return digits[len(cc):]
	}
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// matchCountryCode 按"前缀 + 10 位本地号码"的规则匹配国家码前缀
func matchCountryCode(digits string) (string, bool) {
	for _, cc := range countryCodePrefixes {
		if strings.HasPrefix(digits, cc) && len(digits) == len(cc)+10 {
			return cc, true
		}
	}
	return "", false
}

// digitsOnly 去掉所有非数字字符
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
