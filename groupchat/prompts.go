package groupchat

import (
	"fmt"
	"strings"

	"github.com/jxucoder/agentdeck/model"
)

// Transcript windows fed into each prompt kind.
const (
	moderatorHistoryLines   = 20
	participantHistoryLines = 15
	synthesisHistoryLines   = 30

	// participantMessageCap truncates each history line in participant
	// prompts so one verbose reply cannot crowd out the rest.
	participantMessageCap = 500

	// summaryMaxLen caps the derived one-sentence summary of a reply.
	summaryMaxLen = 200
)

// DefaultModeratorPrompt is the system prompt for moderator rounds.
const DefaultModeratorPrompt = `You are the moderator of a group chat of coding agents.

The user sends you requests. You decide whether to answer directly or to
delegate sub-tasks to participant agents by mentioning them with @name.

Rules:
- Mention a participant (e.g. @alice) only when you want them to do work.
- You may mention several participants; each mention becomes one task.
- If you can answer the request yourself, reply with no mentions at all.
- A reply without mentions ends the round and is shown to the user as the
  final answer.
- Be specific in delegated instructions; participants only see the chat
  history and your message.`

// SynthesisInstructions is appended to the system prompt for synthesis rounds.
const SynthesisInstructions = `All participants you delegated to have now replied.

Synthesize their responses into one coherent answer for the user. If any
follow-up work is needed, delegate it with @name mentions and a new round
will run; otherwise reply without mentions to finish.`

// participantContract is the response-format contract given to every
// participant. The router derives lastSummary from the first sentence.
const participantContract = `Begin your reply with a single summary sentence of what you did or found,
then continue with the details.`

// buildModeratorPrompt composes the prompt for a user-initiated moderator round.
func buildModeratorPrompt(chat *model.GroupChat, available []*model.Session, history []*model.ChatMessage, request string) string {
	var b strings.Builder
	b.WriteString(DefaultModeratorPrompt)
	b.WriteString("\n\n")
	writeRoster(&b, chat)
	writeAvailable(&b, available)
	writeHistory(&b, history, 0)
	fmt.Fprintf(&b, "## Request\n%s\n", request)
	return b.String()
}

// buildParticipantPrompt composes the prompt for one delegated participant task.
func buildParticipantPrompt(chat *model.GroupChat, p *model.Participant, history []*model.ChatMessage, moderatorText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a participant agent in the group chat %q.\n", p.Name, chat.Name)
	if chat.ReadOnly {
		b.WriteString("This round is read-only: inspect and report, do not modify any files.\n")
	}
	b.WriteString("\n")
	writeHistory(&b, history, participantMessageCap)
	fmt.Fprintf(&b, "## Task from the moderator\n%s\n\n", moderatorText)
	b.WriteString(participantContract)
	b.WriteString("\n")
	return b.String()
}

// buildSynthesisPrompt composes the prompt for the post-round synthesis call.
func buildSynthesisPrompt(chat *model.GroupChat, history []*model.ChatMessage) string {
	var b strings.Builder
	b.WriteString(DefaultModeratorPrompt)
	b.WriteString("\n\n")
	b.WriteString(SynthesisInstructions)
	b.WriteString("\n\n")
	writeRoster(&b, chat)
	writeHistory(&b, history, 0)
	return b.String()
}

func writeRoster(b *strings.Builder, chat *model.GroupChat) {
	b.WriteString("## Participants\n")
	if len(chat.Participants) == 0 {
		b.WriteString("(none yet)\n\n")
		return
	}
	for _, p := range chat.Participants {
		fmt.Fprintf(b, "- @%s (%s)\n", p.Name, p.AgentID)
	}
	b.WriteString("\n")
}

func writeAvailable(b *strings.Builder, sessions []*model.Session) {
	if len(sessions) == 0 {
		return
	}
	b.WriteString("## Available sessions (mention to recruit)\n")
	for _, s := range sessions {
		fmt.Fprintf(b, "- @%s (%s)\n", s.Name, s.ToolType)
	}
	b.WriteString("\n")
}

// writeHistory renders transcript messages as "from: content" lines,
// truncating each to limit runes when limit > 0.
func writeHistory(b *strings.Builder, history []*model.ChatMessage, limit int) {
	if len(history) == 0 {
		return
	}
	b.WriteString("## Chat history\n")
	for _, m := range history {
		content := m.Content
		if limit > 0 {
			content = model.Truncate(content, limit)
		}
		fmt.Fprintf(b, "%s: %s\n", m.From, content)
	}
	b.WriteString("\n")
}
