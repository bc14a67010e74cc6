package transcript

import "strings"

// Extract isolates the latest assistant reply from generated text. The
// backend may echo the whole transcript and may keep going with a
// fabricated next user turn; everything after the last "Assistant:"
// marker and before any subsequent "\nUser:" is the answer. Text
// without the marker is returned trimmed as-is.
func Extract(generated string) string {
	idx := strings.LastIndex(generated, assistantCue)
	if idx < 0 {
		return strings.TrimSpace(generated)
	}

	tail := generated[idx+len(assistantCue):]
	if cut := strings.Index(tail, "\nUser:"); cut >= 0 {
		tail = tail[:cut]
	}
	return strings.TrimSpace(tail)
}
