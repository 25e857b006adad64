package console

import (
	"strings"
	"testing"
	"time"

	"github.com/casualjim/hoot/client"
	"github.com/casualjim/hoot/protocol"
	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/session"
	"github.com/fatih/color"
	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer(t *testing.T) {
	var buf strings.Builder
	r := NewRenderer(&buf)

	r.Append("s1", "r1", "Hello ")
	r.Append("s1", "r1", "there")
	r.Finish("s1", "r1", provider.FinishStop)
	r.Sending("s1", false)

	r.Append("s1", "r2", "partial")
	r.Finish("s1", "r2", provider.FinishCancelled)

	r.Fail("s1", "r3", "[provider:openai][code:auth_failed] bad key")
	r.Notify("s1", client.NoticeFor(protocol.CodeGap))

	output := buf.String()
	assert.Contains(t, output, color.MagentaString("Assistant")+": Hello there\n")
	assert.Equal(t, 2, strings.Count(output, color.MagentaString("Assistant")))
	assert.Contains(t, output, "partial\n"+color.YellowString("[cancelled]"))
	assert.Contains(t, output, color.RedString("Error:")+" [provider:openai][code:auth_failed] bad key")
	assert.Contains(t, output, client.NoticeFor(protocol.CodeGap).Text)

	select {
	case id := <-r.Idle():
		assert.Equal(t, "s1", id)
	default:
		t.Fatal("expected an idle signal")
	}
}

func TestMarkdown(t *testing.T) {
	ts := strfmt.DateTime(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s := session.Session{
		ID:    "s1",
		Title: "Greetings",
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "hello", Timestamp: ts},
			{Role: session.RoleAssistant, Content: "hi!", Timestamp: ts, FinishReason: provider.FinishStop},
			{Role: session.RoleAssistant, Content: "half", Timestamp: ts, FinishReason: provider.FinishCancelled},
		},
	}

	md := Markdown(s)
	assert.True(t, strings.HasPrefix(md, "# Greetings\n"))
	assert.Contains(t, md, "**User**")
	assert.Contains(t, md, "hello")
	assert.Contains(t, md, "`cancelled`")
	assert.NotContains(t, md, "`stop`")

	var out strings.Builder
	require.NoError(t, Transcript(&out, s))
	assert.Contains(t, out.String(), "Greetings")
}

func TestSessions(t *testing.T) {
	var out strings.Builder
	Sessions(&out, []session.Session{{ID: "a", Title: "first"}, {ID: "b", Title: "second"}}, "b")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], color.GreenString("*"))
}
