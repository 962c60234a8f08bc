// ABOUTME: Instruction prompt for the writing assistant agent
// ABOUTME: Renders the system text with the current date and an optional writing task

package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DateLayout is how the current date appears in the instructions.
const DateLayout = "January 2, 2006"

// defaultContext is used when the message carries no writing task.
const defaultContext = "General writing assistance."

const writingAssistant = `You are an expert AI writing assistant and a collaborative writing partner.

**What you help with:**
- Drafting new content and improving existing text.
- Adapting tone and style for a given audience.
- Brainstorming ideas, outlines and titles.
- Coaching on structure, clarity and grammar.
- Today's date is {{.Date}}. Use it for anything time-sensitive.

**How to answer:**
1. Be direct and professional. Skip filler and preambles such as "Here is the edit:".
2. Use clear formatting (headings, lists, short paragraphs) when it helps.
3. If you are unsure about a fact, say so instead of guessing.

**Writing context:** {{.Context}}`

var writingAssistantTmpl = template.Must(template.New("writing_assistant").Parse(writingAssistant))

// WritingAssistant renders the instructions for a message received at now.
// task is the optional writing task hint attached to the message.
func WritingAssistant(now time.Time, task string) (string, error) {
	ctx := defaultContext
	if task = strings.TrimSpace(task); task != "" {
		ctx = "Writing Task: " + task
	}

	var buf bytes.Buffer
	err := writingAssistantTmpl.Execute(&buf, struct {
		Date    string
		Context string
	}{
		Date:    now.Format(DateLayout),
		Context: ctx,
	})
	if err != nil {
		return "", fmt.Errorf("rendering writing assistant prompt: %w", err)
	}
	return buf.String(), nil
}

// Compose joins instructions and the user's message into one model prompt.
func Compose(instructions, userText string) string {
	return instructions + "\n\nUser: " + userText
}
