package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/chatdesk/internal/auth"
)

func TestNotifierDeliversCurrentOnSubscribe(t *testing.T) {
	n := auth.NewNotifier()
	n.Set(&auth.Identity{UserID: "alice"})

	var got *auth.Identity
	cancel := n.OnIdentityChange(func(id *auth.Identity) { got = id })
	defer cancel()

	assert.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
}

func TestNotifierBroadcastsChanges(t *testing.T) {
	n := auth.NewNotifier()

	var seen []*auth.Identity
	cancel := n.OnIdentityChange(func(id *auth.Identity) { seen = append(seen, id) })
	defer cancel()

	n.Set(&auth.Identity{UserID: "alice"})
	n.Set(nil)
	n.Set(&auth.Identity{UserID: "bob"})

	// Initial nil delivery plus three changes.
	assert.Len(t, seen, 4)
	assert.Nil(t, seen[0])
	assert.Equal(t, "alice", seen[1].UserID)
	assert.Nil(t, seen[2])
	assert.Equal(t, "bob", seen[3].UserID)
}

func TestNotifierCancelStopsDelivery(t *testing.T) {
	n := auth.NewNotifier()

	calls := 0
	cancel := n.OnIdentityChange(func(id *auth.Identity) { calls++ })
	cancel()

	n.Set(&auth.Identity{UserID: "alice"})
	assert.Equal(t, 1, calls) // only the subscribe-time delivery
	assert.Equal(t, "alice", n.Current().UserID)
}
