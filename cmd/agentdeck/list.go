package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions and group chats",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	sessions, err := fetchSessions()
	if err != nil {
		return err
	}
	chats, err := fetchChats()
	if err != nil {
		return err
	}

	if len(sessions) == 0 && len(chats) == 0 {
		fmt.Println("No sessions or chats found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if len(sessions) > 0 {
		fmt.Fprintln(w, "SESSION\tNAME\tAGENT\tSTATE\tMODE\tCWD")
		for _, s := range sessions {
			cwd := s.Cwd
			if len(cwd) > 40 {
				cwd = "..." + cwd[len(cwd)-37:]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.ToolType, stateIcon(s.State), s.InputMode, cwd)
		}
	}

	if len(chats) > 0 {
		if len(sessions) > 0 {
			fmt.Fprintln(w, "\t\t\t\t\t")
		}
		fmt.Fprintln(w, "CHAT\tNAME\tMODERATOR\tSTATE\tPARTICIPANTS\t")
		for _, c := range chats {
			state := c.State
			if !c.Active {
				state = "closed"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t\n", c.ID, c.Name, c.ModeratorAgentID, stateIcon(state), len(c.Participants))
		}
	}

	return w.Flush()
}

type sessionSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ToolType  string `json:"tool_type"`
	State     string `json:"state"`
	Cwd       string `json:"cwd"`
	InputMode string `json:"input_mode"`
	Error     string `json:"error"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type chatSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ModeratorAgentID string `json:"moderator_agent_id"`
	State            string `json:"state"`
	Active           bool   `json:"active"`
	Participants     []struct {
		Name string `json:"name"`
	} `json:"participants"`
}

func fetchSessions() ([]sessionSummary, error) {
	var sessions []sessionSummary
	if err := getJSON("/api/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func fetchChats() ([]chatSummary, error) {
	var chats []chatSummary
	if err := getJSON("/api/chats", &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func getJSON(path string, v any) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: agentdeck serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func stateIcon(state string) string {
	switch state {
	case "idle":
		return "💤 idle"
	case "busy":
		return "🔄 busy"
	case "moderator-thinking":
		return "🤔 moderator"
	case "agent-working":
		return "🔄 agents"
	case "error":
		return "❌ error"
	case "closed":
		return "🚫 closed"
	default:
		return state
	}
}
