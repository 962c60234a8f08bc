// ABOUTME: Tests for writing assistant prompt rendering
// ABOUTME: Checks date formatting, task hint handling, and prompt composition

package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritingAssistant_IncludesDate(t *testing.T) {
	now := time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)

	out, err := WritingAssistant(now, "")
	require.NoError(t, err)

	assert.Contains(t, out, "Today's date is October 18, 2026.")
	assert.Contains(t, out, "**Writing context:** General writing assistance.")
}

func TestWritingAssistant_WithTask(t *testing.T) {
	out, err := WritingAssistant(time.Now(), "  Cover letter for a backend role ")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(out, "**Writing context:** Writing Task: Cover letter for a backend role"))
}

func TestWritingAssistant_TaskIsNotTemplated(t *testing.T) {
	out, err := WritingAssistant(time.Now(), "{{.Date}}")
	require.NoError(t, err)
	assert.Contains(t, out, "Writing Task: {{.Date}}")
}

func TestCompose(t *testing.T) {
	assert.Equal(t, "Be nice\n\nUser: hi", Compose("Be nice", "hi"))
}
