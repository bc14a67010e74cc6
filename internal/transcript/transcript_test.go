package transcript

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/internal/models"
)

func TestBuildFromPrompt(t *testing.T) {
	got, err := Build(models.GenerationRequest{Prompt: "What is 2+2?"})
	require.NoError(t, err)
	assert.Equal(t, "User: What is 2+2?\nAssistant:", got)
}

func TestBuildFromTurns(t *testing.T) {
	tests := []struct {
		name    string
		turns   []models.Turn
		want    string
		wantErr bool
	}{
		{
			name: "alternating conversation",
			turns: []models.Turn{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
				{Role: "user", Content: "bye"},
			},
			want: "User: hi\nAssistant: hello\nUser: bye\nAssistant:",
		},
		{
			name: "roles are case and whitespace normalized",
			turns: []models.Turn{
				{Role: " USER ", Content: "hi"},
				{Role: "Assistant", Content: "hello"},
			},
			want: "User: hi\nAssistant: hello\nAssistant:",
		},
		{
			name: "unrecognized roles are dropped",
			turns: []models.Turn{
				{Role: "system", Content: "be nice"},
				{Role: "user", Content: "hi"},
				{Role: "tool", Content: "{}"},
			},
			want: "User: hi\nAssistant:",
		},
		{
			name: "all roles unrecognized is rejected",
			turns: []models.Turn{
				{Role: "system", Content: "be nice"},
				{Role: "function", Content: "{}"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(models.GenerationRequest{Turns: tt.turns})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, models.ErrInvalidRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildAlwaysEndsWithCue(t *testing.T) {
	turns := []models.Turn{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}

	got, err := Build(models.GenerationRequest{Turns: turns})
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	assert.Equal(t, "Assistant:", lines[len(lines)-1])
	assert.Len(t, lines, len(turns)+1, "one rendered line per valid turn plus the cue")
}

func TestBuildTurnsTakePrecedenceOverPrompt(t *testing.T) {
	got, err := Build(models.GenerationRequest{
		Prompt: "ignored",
		Turns:  []models.Turn{{Role: "user", Content: "used"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "User: used\nAssistant:", got)
}

func TestBuildRejectsEmptyRequest(t *testing.T) {
	_, err := Build(models.GenerationRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))

	_, err = Build(models.GenerationRequest{Prompt: "   "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		generated string
		want      string
	}{
		{
			name:      "answer after last assistant marker",
			generated: "User: hi\nAssistant: hello\nUser: bye\nAssistant: goodbye\nUser:",
			want:      "goodbye",
		},
		{
			name:      "fabricated next user turn is discarded",
			generated: "Assistant: 4\nUser: and 3+3?\nthanks",
			want:      "4",
		},
		{
			name:      "no marker returns trimmed text unchanged",
			generated: "  just an answer \n",
			want:      "just an answer",
		},
		{
			name:      "bare cue yields empty answer",
			generated: "User: hi\nAssistant:",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.generated))
		})
	}
}

func TestExtractIdempotentOnMarkerFreeText(t *testing.T) {
	input := "the capital of France is Paris"
	once := Extract(input)
	assert.Equal(t, input, once)
	assert.Equal(t, once, Extract(once))
}
