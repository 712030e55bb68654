package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Get the status of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	logsFollow bool
	logsStream string
)

var logsCmd = &cobra.Command{
	Use:   "logs [session-id]",
	Short: "View session logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().StringVar(&logsStream, "stream", "ai", "Log stream to show (ai or shell)")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]

	var sess sessionSummary
	if err := getJSON("/api/sessions/"+id, &sess); err != nil {
		return err
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Name:     %s\n", sess.Name)
	fmt.Printf("Agent:    %s\n", sess.ToolType)
	fmt.Printf("State:    %s\n", stateIcon(sess.State))
	fmt.Printf("Input:    %s\n", sess.InputMode)
	fmt.Printf("Cwd:      %s\n", sess.Cwd)
	fmt.Printf("Created:  %s\n", sess.CreatedAt)
	fmt.Printf("Updated:  %s\n", sess.UpdatedAt)
	if sess.Error != "" {
		fmt.Printf("Error:    %s\n", sess.Error)
	}

	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	id := args[0]

	// The SSE stream replays stored events before going live, so following
	// needs no separate history fetch.
	if logsFollow {
		return streamSessionEvents(id)
	}

	var entries []struct {
		Timestamp string `json:"timestamp"`
		From      string `json:"from"`
		Content   string `json:"content"`
	}
	if err := getJSON("/api/sessions/"+id+"/logs?stream="+logsStream, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		printLogLine(e.From, e.Content)
	}
	return nil
}

func printLogLine(from, content string) {
	switch from {
	case "user":
		fmt.Printf("\033[36m> %s\033[0m\n", content)
	case "system":
		fmt.Printf("\033[33m[system]\033[0m %s\n", content)
	default:
		fmt.Println(content)
	}
}

// streamSessionEvents follows a session's SSE event stream and prints log
// events for the selected stream.
func streamSessionEvents(sessionID string) error {
	req, _ := http.NewRequest("GET", serverURL+"/api/sessions/"+sessionID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
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
		case "log":
			var entry struct {
				Stream  string `json:"stream"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal([]byte(event.Data), &entry); err != nil {
				continue
			}
			if entry.Stream == logsStream {
				fmt.Println(entry.Content)
			}
		case "state":
			fmt.Printf("\033[36m[state]\033[0m %s\n", event.Data)
		case "error":
			fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %s\n", event.Data)
		}
	}

	return scanner.Err()
}
