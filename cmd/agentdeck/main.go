// agentdeck - run coding-agent sessions side by side and bind them into
// moderated group chats.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "agentdeck",
	Short: "agentdeck - a deck of coding-agent sessions",
	Long: `agentdeck runs several coding-agent sessions side by side and can bind
them into a group chat coordinated by a moderator agent.

  agentdeck serve                      Start the server
  agentdeck list                       List sessions and chats
  agentdeck status <session-id>        Check session status
  agentdeck logs <session-id> -f       Stream session logs
  agentdeck send <chat-id> "message"   Send a message to a group chat
  agentdeck share <chat-id>            Share a chat transcript as a gist`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AGENTDECK_SERVER", "http://localhost:7080"), "agentdeck server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
