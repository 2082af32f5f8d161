package config

import (
	"strings"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

const pipelinePrefix = "pipeline="

// trim removes surrounding whitespace and one pair of surrounding quotes
func trim(s string) string {
	s = strings.Trim(s, " \t\r\n")
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

// ResolveDescriptionOverride extracts a pipeline description from a
// command-line style override.
//
// "pipeline=<text>" (prefix matched case-insensitively) yields <text>.
// Raw text is accepted only when it contains a '!' link. Anything else
// yields "".
func ResolveDescriptionOverride(input string) string {
	value := trim(input)
	if value == "" {
		return ""
	}

	if strings.HasPrefix(strings.ToLower(value), pipelinePrefix) {
		return trim(value[len(pipelinePrefix):])
	}

	if strings.Contains(value, "!") {
		return value
	}
	return ""
}

// InferFromDescription overrides cfg's geometry and frame rate with the
// first width=, height= and framerate=N[/D] tokens found in desc.
// Zero or malformed values leave the field unchanged.
func InferFromDescription(desc string, cfg vcam.PipelineConfig) vcam.PipelineConfig {
	if w, ok := parseUintToken(desc, "width="); ok && w > 0 {
		cfg.Width = w
	}
	if h, ok := parseUintToken(desc, "height="); ok && h > 0 {
		cfg.Height = h
	}
	if num, den, ok := parseFramerate(desc); ok {
		cfg.FPSNumerator = num
		cfg.FPSDenominator = den
	}
	return cfg
}

// parseUintToken reads the digits following the first occurrence of token
func parseUintToken(text, token string) (uint32, bool) {
	pos := strings.Index(text, token)
	if pos < 0 {
		return 0, false
	}
	v, n := readDigits(text[pos+len(token):])
	return v, n > 0
}

func parseFramerate(text string) (num, den uint32, ok bool) {
	const token = "framerate="

	pos := strings.Index(text, token)
	if pos < 0 {
		return 0, 0, false
	}
	rest := text[pos+len(token):]

	num, n := readDigits(rest)
	if n == 0 {
		return 0, 0, false
	}
	rest = rest[n:]

	den = 1
	if strings.HasPrefix(rest, "/") {
		var m int
		den, m = readDigits(rest[1:])
		if m == 0 {
			return 0, 0, false
		}
	}

	if num == 0 || den == 0 {
		return 0, 0, false
	}
	return num, den, true
}

// readDigits parses a leading run of ASCII digits, returning the value and
// the number of digits consumed
func readDigits(s string) (uint32, int) {
	var v uint32
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		v = v*10 + uint32(s[n]-'0')
		n++
	}
	return v, n
}
