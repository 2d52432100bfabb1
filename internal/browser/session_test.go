package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestSession() *Session {
	return &Session{ID: "session-test", tabs: make(map[string]*Tab)}
}

func TestSessionActiveTabFollowsNewest(t *testing.T) {
	s := newTestSession()
	s.addTab(&Tab{ID: "tab-1"})
	s.addTab(&Tab{ID: "tab-2"})
	s.addTab(&Tab{ID: "tab-3"})

	assert.Equal(t, "tab-3", s.ActiveTabID())
	assert.Equal(t, []string{"tab-1", "tab-2", "tab-3"}, s.TabIDs())
}

func TestSessionRemoveActiveTabRepoints(t *testing.T) {
	s := newTestSession()
	s.addTab(&Tab{ID: "tab-1"})
	s.addTab(&Tab{ID: "tab-2"})
	s.addTab(&Tab{ID: "tab-3"})

	assert.True(t, s.removeTab("tab-3"))
	assert.Equal(t, "tab-2", s.ActiveTabID(), "active tab moves to most recent remaining")

	// Removing a non-active tab leaves the pointer alone.
	assert.True(t, s.removeTab("tab-1"))
	assert.Equal(t, "tab-2", s.ActiveTabID())

	assert.True(t, s.removeTab("tab-2"))
	assert.Equal(t, "", s.ActiveTabID())
	assert.Equal(t, 0, s.TabCount())
}

func TestSessionRemoveUnknownTab(t *testing.T) {
	s := newTestSession()
	s.addTab(&Tab{ID: "tab-1"})
	assert.False(t, s.removeTab("tab-404"))
	assert.Equal(t, 1, s.TabCount())
}

func TestTabDialogPolicy(t *testing.T) {
	tab := &Tab{ID: "tab-1"}
	accept, prompt := tab.DialogPolicy()
	assert.False(t, accept)
	assert.Equal(t, "", prompt)

	tab.SetDialogPolicy(true, "yes please")
	accept, prompt = tab.DialogPolicy()
	assert.True(t, accept)
	assert.Equal(t, "yes please", prompt)
}
