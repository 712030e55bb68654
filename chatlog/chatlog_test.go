package chatlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/agentdeck/model"
)

func TestAppendReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")

	in := []*model.ChatMessage{
		{Timestamp: time.Now().UTC().Truncate(time.Second), From: model.FromUser, Content: "@Alice refactor module X", ReadOnly: true},
		{Timestamp: time.Now().UTC().Truncate(time.Second), From: model.FromModerator, Content: "Delegating to @Alice."},
		{Timestamp: time.Now().UTC().Truncate(time.Second), From: "Alice", Content: "Refactored module X successfully."},
	}
	for _, msg := range in {
		require.NoError(t, Append(path, msg))
	}

	out, err := Read(path)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := range in {
		assert.Equal(t, in[i].From, out[i].From)
		assert.Equal(t, in[i].Content, out[i].Content)
		assert.Equal(t, in[i].ReadOnly, out[i].ReadOnly)
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	msgs, err := Read(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAppendCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats", "abc", "chat.jsonl")
	require.NoError(t, Append(path, &model.ChatMessage{From: model.FromUser, Content: "hi"}))

	msgs, err := Read(path)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestReadSkipsTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	require.NoError(t, Append(path, &model.ChatMessage{From: model.FromUser, Content: "first"}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"from":"user","conte`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	msgs, err := Read(path)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	for _, content := range []string{"one", "two", "three", "four"} {
		require.NoError(t, Append(path, &model.ChatMessage{From: model.FromUser, Content: content}))
	}

	tail, err := Tail(path, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "three", tail[0].Content)
	assert.Equal(t, "four", tail[1].Content)

	all, err := Tail(path, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
