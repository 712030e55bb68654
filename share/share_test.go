package share

import (
	"strings"
	"testing"
	"time"

	"github.com/jxucoder/agentdeck/model"
)

func TestRenderTranscript(t *testing.T) {
	chat := &model.GroupChat{
		ID:               "c1",
		Name:             "API redesign",
		ModeratorAgentID: "claude-code",
		Participants: []*model.Participant{
			{Name: "Backend Dev", AgentID: "claude-code", MessageCount: 2},
		},
	}
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	msgs := []*model.ChatMessage{
		{Timestamp: ts, From: model.FromUser, Content: "@backend-dev review the handlers", ReadOnly: true},
		{Timestamp: ts.Add(time.Minute), From: "Backend Dev", Content: "Handlers look fine."},
	}

	out := RenderTranscript(chat, msgs)

	for _, want := range []string{
		"# API redesign",
		"Moderator: `claude-code`",
		"- **Backend Dev** (`claude-code`, 2 messages)",
		"**user (read-only)** — 2026-03-14 09:30:00",
		"@backend-dev review the handlers",
		"Handlers look fine.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("transcript missing %q:\n%s", want, out)
		}
	}

	// Messages render in append order.
	if strings.Index(out, "review the handlers") > strings.Index(out, "Handlers look fine.") {
		t.Error("messages rendered out of order")
	}
}

func TestRenderTranscriptEmptyChat(t *testing.T) {
	chat := &model.GroupChat{ID: "c2", Name: "empty", ModeratorAgentID: "codex"}
	out := RenderTranscript(chat, nil)
	if !strings.Contains(out, "# empty") {
		t.Fatalf("unexpected render: %s", out)
	}
	if strings.Contains(out, "Participants:") {
		t.Error("empty roster should not render a participants section")
	}
}
