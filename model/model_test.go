package model

import "testing"

func TestTruncateShortString(t *testing.T) {
	got := Truncate("hello", 10)
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestTruncateExactLength(t *testing.T) {
	got := Truncate("hello", 5)
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestTruncateLongString(t *testing.T) {
	got := Truncate("hello world", 8)
	if got != "hello..." {
		t.Fatalf("expected 'hello...', got %q", got)
	}
}

func TestTruncateVerySmallMaxLen(t *testing.T) {
	got := Truncate("hello", 2)
	if got != "he" {
		t.Fatalf("expected 'he', got %q", got)
	}
}

func TestTruncateUnicode(t *testing.T) {
	got := Truncate("こんにちは世界", 6)
	if got != "こんに..." {
		t.Fatalf("expected 'こんに...', got %q", got)
	}
}

func TestFirstSentencePeriod(t *testing.T) {
	got := FirstSentence("Refactored module X successfully. Details follow below.", 200)
	if got != "Refactored module X successfully." {
		t.Fatalf("expected first sentence, got %q", got)
	}
}

func TestFirstSentenceNewline(t *testing.T) {
	got := FirstSentence("Done with the task\nand here is more", 200)
	if got != "Done with the task" {
		t.Fatalf("expected text before newline, got %q", got)
	}
}

func TestFirstSentenceExclamation(t *testing.T) {
	got := FirstSentence("All tests pass! Ship it", 200)
	if got != "All tests pass!" {
		t.Fatalf("expected exclamation cut, got %q", got)
	}
}

func TestFirstSentenceNoTerminator(t *testing.T) {
	got := FirstSentence("no terminator here just words", 10)
	if got != "no term..." {
		t.Fatalf("expected capped text, got %q", got)
	}
}

func TestFirstSentenceTerminatorBeyondCap(t *testing.T) {
	// Terminator exists but only past the cap; the capped text wins.
	got := FirstSentence("aaaaaaaaaa aaaaaaaaaa.", 10)
	if got != "aaaaaaa..." {
		t.Fatalf("expected capped text, got %q", got)
	}
}

func TestSessionStateConstants(t *testing.T) {
	states := []SessionState{StateIdle, StateBusy, StateError}
	expected := []string{"idle", "busy", "error"}
	for i, s := range states {
		if string(s) != expected[i] {
			t.Fatalf("expected %q, got %q", expected[i], s)
		}
	}
}

func TestChatStateConstants(t *testing.T) {
	states := []ChatState{ChatIdle, ChatModeratorThinking, ChatAgentWorking}
	expected := []string{"idle", "moderator-thinking", "agent-working"}
	for i, s := range states {
		if string(s) != expected[i] {
			t.Fatalf("expected %q, got %q", expected[i], s)
		}
	}
}

func TestInputModeConstants(t *testing.T) {
	if string(InputAI) != "ai" {
		t.Fatalf("expected 'ai', got %q", InputAI)
	}
	if string(InputTerminal) != "terminal" {
		t.Fatalf("expected 'terminal', got %q", InputTerminal)
	}
}

func TestGroupChatParticipantLookup(t *testing.T) {
	chat := &GroupChat{
		Participants: []*Participant{
			{Name: "Alice", AgentID: "claude-code"},
			{Name: "Bob", AgentID: "codex"},
		},
	}
	if p := chat.Participant("Bob"); p == nil || p.AgentID != "codex" {
		t.Fatalf("expected Bob with agent codex, got %+v", p)
	}
	if p := chat.Participant("Carol"); p != nil {
		t.Fatalf("expected nil for unknown participant, got %+v", p)
	}
	names := chat.ParticipantNames()
	if len(names) != 2 || names[0] != "Alice" || names[1] != "Bob" {
		t.Fatalf("expected roster order [Alice Bob], got %v", names)
	}
}
