package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputWaiterResolve(t *testing.T) {
	w := newInputWaiter("req-1", nil, time.Minute)

	go func() {
		assert.True(t, w.resolve(map[string]string{"username": "alice"}))
	}()

	values, err := w.wait()
	require.NoError(t, err)
	assert.Equal(t, "alice", values["username"])

	// A second resolve is a no-op.
	assert.False(t, w.resolve(map[string]string{"username": "bob"}))
}

func TestInputWaiterTimeout(t *testing.T) {
	w := newInputWaiter("req-1", nil, 10*time.Millisecond)
	_, err := w.wait()
	require.Error(t, err)

	// Resolving after timeout is rejected.
	assert.False(t, w.resolve(map[string]string{"x": "y"}))
}

func TestInputWaiterCancel(t *testing.T) {
	w := newInputWaiter("req-1", nil, time.Minute)
	w.cancel()
	_, err := w.wait()
	assert.Error(t, err)
}

func TestMaskValues(t *testing.T) {
	fields := []InputField{
		{Name: "username", Type: "text"},
		{Name: "password", Type: "password"},
	}
	masked := maskValues(map[string]string{
		"username": "alice",
		"password": "hunter2",
	}, fields)

	assert.Equal(t, "alice", masked["username"])
	assert.Equal(t, "***", masked["password"])
}

func TestParseInputFields(t *testing.T) {
	fields := parseInputFields([]any{
		map[string]any{"name": "username", "type": "text", "label": "用户名"},
		map[string]any{"name": "password", "type": "password"},
		map[string]any{"type": "text"},
	})
	require.Len(t, fields, 2, "nameless fields are dropped")
	assert.Equal(t, "username", fields[0].Name)
	assert.Equal(t, "用户名", fields[0].Label)
	assert.Equal(t, "password", fields[1].Type)

	assert.Nil(t, parseInputFields("not a list"))
}
