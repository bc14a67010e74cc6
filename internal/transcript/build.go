// Package transcript builds and dissects the canonical chat transcript
// format the backend models were tuned on: alternating "User:" and
// "Assistant:" lines, terminated with a bare "Assistant:" cue so the
// backend continues as the assistant.
package transcript

import (
	"fmt"
	"strings"

	"chatgate/internal/models"
)

const (
	userPrefix      = "User: "
	assistantPrefix = "Assistant: "
	assistantCue    = "Assistant:"
)

// Build renders a generation request as a canonical transcript. Turns
// take precedence over the bare prompt when both are supplied. Turns
// with unrecognized roles are dropped; a turn list that filters down to
// nothing is rejected rather than sent as a bare cue.
func Build(req models.GenerationRequest) (string, error) {
	if len(req.Turns) > 0 {
		return buildFromTurns(req.Turns)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: either prompt or messages must be provided", models.ErrInvalidRequest)
	}
	return userPrefix + prompt + "\n" + assistantCue, nil
}

func buildFromTurns(turns []models.Turn) (string, error) {
	lines := make([]string, 0, len(turns)+1)
	for _, turn := range turns {
		switch normalizeRole(turn.Role) {
		case "user":
			lines = append(lines, userPrefix+turn.Content)
		case "assistant":
			lines = append(lines, assistantPrefix+turn.Content)
		}
	}

	if len(lines) == 0 {
		return "", fmt.Errorf("%w: messages contained no user or assistant turns", models.ErrInvalidRequest)
	}

	lines = append(lines, assistantCue)
	return strings.Join(lines, "\n"), nil
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
