package bedrock

import (
	"crypto/sha256"
	"encoding/hex"
)

// SanitizeToolName maps a tool name to a Bedrock-compatible one.
//
// The result contains only [a-zA-Z0-9_-] and is at most 64 bytes long. Longer
// names are truncated and suffixed with a stable hash so distinct inputs stay
// distinct. The adapter translates tool_use names back using the per-request
// reverse map.
func SanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8

	out := make([]byte, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	if len(out) <= maxLen {
		return string(out)
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	return string(out[:maxLen-1-hashLen]) + "_" + suffix
}
