package provider

import (
	"math"
	"strings"

	"ipwatch/internal/types"

	"golang.org/x/text/unicode/norm"
)

// clean trims whitespace and applies NFC normalization
func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func text(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	return textValue(m[key])
}

func textValue(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return types.StringPtr(clean(s))
}

func number(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	f, ok := m[key].(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
