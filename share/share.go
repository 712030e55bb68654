// Package share exports chat transcripts as secret GitHub gists.
package share

import (
	"context"
	"fmt"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/jxucoder/agentdeck/model"
	"github.com/jxucoder/agentdeck/store"
)

// GistSharer publishes a chat transcript as a secret gist and returns the
// gist URL. It implements the httpapi Sharer interface.
type GistSharer struct {
	gh    *gogh.Client
	store store.GroupChatStore
}

// New creates a GistSharer authenticated with the given token.
func New(token string, st store.GroupChatStore) *GistSharer {
	return &GistSharer{
		gh:    gogh.NewClient(nil).WithAuthToken(token),
		store: st,
	}
}

// ShareChat renders the chat's transcript to markdown and uploads it.
func (s *GistSharer) ShareChat(ctx context.Context, chatID string) (string, error) {
	chat, err := s.store.GetGroupChat(chatID)
	if err != nil {
		return "", fmt.Errorf("loading chat: %w", err)
	}

	msgs, err := s.store.ReadLog(chat.LogPath)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}

	filename := fmt.Sprintf("%s-transcript.md", chat.ID)
	gist := &gogh.Gist{
		Description: gogh.Ptr(fmt.Sprintf("agentdeck chat: %s", chat.Name)),
		Public:      gogh.Ptr(false),
		Files: map[gogh.GistFilename]gogh.GistFile{
			gogh.GistFilename(filename): {Content: gogh.Ptr(RenderTranscript(chat, msgs))},
		},
	}

	created, _, err := s.gh.Gists.Create(ctx, gist)
	if err != nil {
		return "", fmt.Errorf("creating gist: %w", err)
	}
	return created.GetHTMLURL(), nil
}

// RenderTranscript renders a chat and its messages as a markdown document.
func RenderTranscript(chat *model.GroupChat, msgs []*model.ChatMessage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", chat.Name)
	fmt.Fprintf(&b, "Moderator: `%s`\n\n", chat.ModeratorAgentID)

	if len(chat.Participants) > 0 {
		b.WriteString("Participants:\n\n")
		for _, p := range chat.Participants {
			fmt.Fprintf(&b, "- **%s** (`%s`, %d messages)\n", p.Name, p.AgentID, p.MessageCount)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n")

	for _, msg := range msgs {
		label := msg.From
		if msg.ReadOnly {
			label += " (read-only)"
		}
		fmt.Fprintf(&b, "**%s** — %s\n\n%s\n\n", label, msg.Timestamp.Format("2006-01-02 15:04:05"), msg.Content)
	}

	return b.String()
}
