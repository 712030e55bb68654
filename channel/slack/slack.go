// Package slack provides a Slack notification channel for agentdeck.
//
// The channel subscribes to the event bus firehose and posts final moderator
// answers and routing errors from every group chat into one Slack channel.
// It is outbound-only: nothing in a chat is driven from Slack.
//
// Setup:
//  1. Create a Slack app with the chat:write bot scope
//  2. Invite the bot to the target channel
//  3. Set SLACK_BOT_TOKEN and SLACK_CHANNEL_ID in your environment
package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/jxucoder/agentdeck/eventbus"
	"github.com/jxucoder/agentdeck/store"
)

// maxAnswerLen caps the posted answer text; Slack rejects oversized blocks.
const maxAnswerLen = 3000

// Channel posts chat outcomes to a Slack channel.
type Channel struct {
	api       *slack.Client
	channelID string
	store     store.GroupChatStore
	bus       eventbus.Bus

	notifyErrors bool
}

// Option configures the Slack channel.
type Option func(*Channel)

// WithErrorNotifications enables posting of chat error events in addition
// to final answers.
func WithErrorNotifications() Option {
	return func(c *Channel) { c.notifyErrors = true }
}

// New creates a Slack notification channel.
func New(botToken, channelID string, st store.GroupChatStore, bus eventbus.Bus, opts ...Option) *Channel {
	c := &Channel{
		api:       slack.New(botToken),
		channelID: channelID,
		store:     st,
		bus:       bus,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return "slack" }

// Run consumes the event firehose and posts notifications. Blocks until ctx
// is done.
func (c *Channel) Run(ctx context.Context) error {
	ch := c.bus.SubscribeAll()
	defer c.bus.UnsubscribeAll(ch)

	log.Info().Str("channel", c.channelID).Msg("Slack notifier started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			chatID, found := strings.CutPrefix(event.Topic, "chat:")
			if !found {
				continue
			}
			switch event.Type {
			case "done":
				c.postAnswer(ctx, chatID, event.Data)
			case "error":
				if c.notifyErrors {
					c.post(ctx, fmt.Sprintf(":warning: *%s* — %s", c.chatName(chatID), event.Data))
				}
			}
		}
	}
}

// postAnswer posts a final moderator answer.
func (c *Channel) postAnswer(ctx context.Context, chatID, answer string) {
	if len(answer) > maxAnswerLen {
		answer = answer[:maxAnswerLen] + "\n...(truncated)"
	}
	c.post(ctx, fmt.Sprintf("*%s* — final answer:\n\n%s", c.chatName(chatID), answer))
}

func (c *Channel) post(ctx context.Context, text string) {
	_, _, err := c.api.PostMessageContext(ctx, c.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Warn().Err(err).Msg("Slack post failed")
	}
}

// chatName resolves the chat's display name, falling back to its id.
func (c *Channel) chatName(chatID string) string {
	chat, err := c.store.GetGroupChat(chatID)
	if err != nil {
		return chatID
	}
	return chat.Name
}
