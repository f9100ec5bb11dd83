package utils

import (
	"regexp"
	"strings"
)

var sanitizePatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)api[_-]?key["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{10,})["']?`), `api_key="***"`},
	{regexp.MustCompile(`(?i)secret[_-]?key["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{10,})["']?`), `secret_key="***"`},
	{regexp.MustCompile(`(?i)password["']?\s*[:=]\s*["']?([^"']+)["']?`), `password="***"`},
	{regexp.MustCompile(`(?i)token["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{20,})["']?`), `token="***"`},
	{regexp.MustCompile(`(?i)Basic\s+([A-Za-z0-9\-_\.=]{10,})`), `Basic ***`},
	{regexp.MustCompile(`([?&])(signature|api[_-]?key|secret[_-]?key|token|password)=([A-Za-z0-9\-_\.=]{10,})`), `${1}${2}=***`},
	{regexp.MustCompile(`\b([A-Za-z0-9]{40,})\b`), `***`},
}

// SanitizeString 脱敏字符串中的敏感信息
func SanitizeString(text string) string {
	if text == "" {
		return text
	}

	result := text
	for _, p := range sanitizePatterns {
		result = p.pattern.ReplaceAllString(result, p.replacement)
	}
	return result
}

// NormalizeSymbol 规范化交易对符号
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, " ", "")
	symbol = strings.ReplaceAll(symbol, "-", "")
	symbol = strings.ReplaceAll(symbol, "/", "")
	symbol = strings.ReplaceAll(symbol, "_", "")
	return symbol
}

// Truncate 截断过长文本
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "...[已截断]"
}
