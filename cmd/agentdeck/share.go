package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share [chat-id]",
	Short: "Share a chat transcript as a secret GitHub gist",
	Args:  cobra.ExactArgs(1),
	RunE:  runShare,
}

func init() {
	rootCmd.AddCommand(shareCmd)
}

func runShare(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Post(serverURL+"/api/chats/"+id+"/share", "application/json", nil)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: agentdeck serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Transcript shared: %s\n", result.URL)
	return nil
}
