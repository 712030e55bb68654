// Package chatlog reads and writes group-chat transcripts as JSON Lines
// files, one message per line in append order.
package chatlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/jxucoder/agentdeck/model"
)

// Append writes one message to the end of the transcript at path, creating
// the file and its parent directory if needed.
func Append(path string, msg *model.ChatMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Read returns all messages in the transcript at path in append order.
// A missing file is an empty transcript, not an error.
func Read(path string) ([]*model.ChatMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	var msgs []*model.ChatMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg := &model.ChatMessage{}
		if err := json.Unmarshal([]byte(line), msg); err != nil {
			// A torn trailing line from a crashed writer is skipped rather
			// than poisoning the whole transcript.
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	return msgs, nil
}

// Tail returns the last n messages of the transcript at path.
func Tail(path string, n int) ([]*model.ChatMessage, error) {
	msgs, err := Read(path)
	if err != nil {
		return nil, err
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}
