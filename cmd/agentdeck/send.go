package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var sendReadOnly bool

var sendCmd = &cobra.Command{
	Use:   "send [chat-id] [message]",
	Short: "Send a message to a group chat and stream the round",
	Long: `Send a user message to a group chat. The moderator decides whom to
delegate to via @mentions; the command streams the round's messages and
returns when the moderator posts a final answer.

Example:
  agentdeck send 4f3a2b1c "@backend-dev refactor the session store"`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendReadOnly, "read-only", false, "Ask agents not to modify files this round")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	chatID, text := args[0], args[1]

	payload, _ := json.Marshal(map[string]any{
		"content":   text,
		"read_only": sendReadOnly,
	})

	resp, err := http.Post(serverURL+"/api/chats/"+chatID+"/messages", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: agentdeck serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	return streamChatRound(chatID, text)
}

// streamChatRound follows the chat's SSE stream and prints the round's
// messages until the moderator posts a final answer. The SSE replay includes
// earlier rounds, so output is suppressed until the just-sent user message
// appears.
func streamChatRound(chatID, sent string) error {
	req, _ := http.NewRequest("GET", serverURL+"/api/chats/"+chatID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	started := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message":
			var msg struct {
				From    string `json:"from"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal([]byte(event.Data), &msg); err != nil {
				continue
			}
			if !started {
				started = msg.From == "user" && msg.Content == sent
				continue
			}
			fmt.Printf("\033[36m[%s]\033[0m %s\n", msg.From, msg.Content)
		case "participant-state":
			if started {
				fmt.Printf("\033[33m[%s]\033[0m\n", event.Data)
			}
		case "error":
			if started {
				fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %s\n", event.Data)
			}
		case "done":
			if started {
				fmt.Printf("\n\033[32m✓ Final answer:\033[0m\n%s\n", event.Data)
				return nil
			}
		}
	}

	return scanner.Err()
}
