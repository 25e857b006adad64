package chat

import (
	"testing"

	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompt_Compose(t *testing.T) {
	t.Run("raw text without context", func(t *testing.T) {
		assert.Equal(t, "  just text ", Prompt{Text: "  just text "}.Compose())
	})

	t.Run("sections keep their order", func(t *testing.T) {
		p := Prompt{
			Text:    "q",
			Skipped: []SkippedAttachment{{Attachment: Attachment{Path: "/tmp/big.log"}, Reason: "too large"}},
			Context: []Snippet{{Path: "a.go", StartLine: 7, Content: "x\n"}},
		}
		assert.Equal(t, "q\n\n## Editor context\n\n### a.go (line 7)\n```\nx\n```\n\n## Skipped attachments\n- big.log: too large", p.Compose())
	})
}

func TestHistory(t *testing.T) {
	transcript := []session.Message{
		{Role: session.RoleUser, Content: "one"},
		{Role: session.RoleAssistant, Content: "stopped", FinishReason: provider.FinishStop},
		{Role: session.RoleAssistant, Content: "cut", FinishReason: provider.FinishLength},
		{Role: session.RoleAssistant, Content: "cancelled", FinishReason: provider.FinishCancelled},
		{Role: session.RoleAssistant, Content: "interrupted"},
		{Role: session.RoleUser, Content: "two"},
	}

	t.Run("strips the trailing raw copy", func(t *testing.T) {
		got := History(transcript, "two", "two + context")
		assert.Equal(t, []provider.Message{
			{Role: provider.RoleUser, Content: "one"},
			{Role: provider.RoleAssistant, Content: "stopped"},
			{Role: provider.RoleAssistant, Content: "cut"},
			{Role: provider.RoleUser, Content: "two + context"},
		}, got)
	})

	t.Run("keeps a different trailing message", func(t *testing.T) {
		got := History(transcript, "three", "three")
		require.Len(t, got, 5)
		assert.Equal(t, "two", got[3].Content)
		assert.Equal(t, "three", got[4].Content)
	})

	t.Run("empty transcript", func(t *testing.T) {
		assert.Equal(t, []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, History(nil, "hi", "hi"))
	})
}

func TestFormatProviderError(t *testing.T) {
	pe := provider.NewError("deepseek", provider.CodeRateLimited, "slow down", 429, true, nil)
	assert.Equal(t, "[provider:deepseek][code:rate_limited] slow down", FormatProviderError(pe))
}
