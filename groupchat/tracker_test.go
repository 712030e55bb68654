package groupchat

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkLastInAnyOrder(t *testing.T) {
	names := []string{"alice", "bob", "carol", "dave"}

	for trial := 0; trial < 10; trial++ {
		tr := NewTracker()
		tr.Begin("chat1", names)

		order := append([]string(nil), names...)
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for i, name := range order {
			wasLast := tr.Mark("chat1", name)
			if i < len(order)-1 {
				assert.False(t, wasLast, "call %d of %d returned wasLast", i+1, len(order))
			} else {
				assert.True(t, wasLast, "final call did not return wasLast")
			}
		}
		assert.Empty(t, tr.Pending("chat1"))
	}
}

func TestMarkUnknownName(t *testing.T) {
	tr := NewTracker()
	tr.Begin("chat1", []string{"alice"})

	assert.False(t, tr.Mark("chat1", "bob"))
	assert.Equal(t, []string{"alice"}, tr.Pending("chat1"))

	// A chat with no round in flight ignores marks entirely.
	assert.False(t, tr.Mark("chat2", "alice"))
}

func TestBeginReplacesStaleRound(t *testing.T) {
	tr := NewTracker()
	tr.Begin("chat1", []string{"alice", "bob"})
	assert.False(t, tr.Mark("chat1", "alice"))

	// New round discards the stale set.
	tr.Begin("chat1", []string{"carol"})
	assert.Equal(t, []string{"carol"}, tr.Pending("chat1"))

	// Bob's late reply from the replaced round does not trigger anything.
	assert.False(t, tr.Mark("chat1", "bob"))
	// Carol finishing the new round does.
	assert.True(t, tr.Mark("chat1", "carol"))
}

func TestChatsAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Begin("chat1", []string{"alice"})
	tr.Begin("chat2", []string{"alice", "bob"})

	assert.True(t, tr.Mark("chat1", "alice"))
	assert.False(t, tr.Mark("chat2", "alice"))
	assert.True(t, tr.Mark("chat2", "bob"))
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.Begin("chat1", []string{"alice", "bob"})
	tr.Clear("chat1")

	assert.Empty(t, tr.Pending("chat1"))
	assert.False(t, tr.Mark("chat1", "alice"))

	// Begin with no names is equivalent to Clear.
	tr.Begin("chat1", []string{"alice"})
	tr.Begin("chat1", nil)
	assert.Empty(t, tr.Pending("chat1"))
}
