package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestEvent(id, url string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request:   &network.Request{URL: url, Method: "GET"},
	}
}

func TestTrackerNetworkRingCap(t *testing.T) {
	tr := NewEventTracker()
	for i := 0; i < maxNetworkRecords+50; i++ {
		tr.onRequest(requestEvent(string(rune('a'+i%26))+"x", "https://example.com"))
	}
	assert.Len(t, tr.NetworkLog(), maxNetworkRecords)
}

func TestTrackerStability(t *testing.T) {
	tr := NewEventTracker()

	// A fresh tracker with no activity is stable.
	assert.True(t, tr.Stable(50*time.Millisecond))

	// A young pending request blocks stability.
	tr.onRequest(requestEvent("r1", "https://example.com/api"))
	assert.False(t, tr.Stable(time.Nanosecond))

	tr.onRequestDone("r1", 200, false)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, tr.Stable(time.Millisecond))
	assert.False(t, tr.Stable(time.Minute), "mutation inside the quiet window")

	// Recorded DOM mutations reset the quiet window.
	tr.RecordMutation(time.Now())
	assert.False(t, tr.Stable(time.Second))
}

func TestTrackerLoadStateBlocksStability(t *testing.T) {
	tr := NewEventTracker()
	tr.setLoadState(LoadStateLoading)
	time.Sleep(2 * time.Millisecond)
	assert.False(t, tr.Stable(time.Nanosecond))

	tr.setLoadState(LoadStateLoaded)
	time.Sleep(2 * time.Millisecond)
	assert.True(t, tr.Stable(time.Millisecond))
}

func TestTrackerRequestCompletionRecorded(t *testing.T) {
	tr := NewEventTracker()
	tr.onRequest(requestEvent("r1", "https://example.com/api"))
	tr.onRequestDone("r1", 404, false)

	logs := tr.NetworkLog()
	require.Len(t, logs, 1)
	assert.Equal(t, int64(404), logs[0].Status)
	assert.False(t, logs[0].EndedAt.IsZero())
	assert.False(t, logs[0].Failed)

	tr.onRequest(requestEvent("r2", "https://example.com/broken"))
	tr.onRequestDone("r2", 0, true)
	logs = tr.NetworkLog()
	require.Len(t, logs, 2)
	assert.True(t, logs[1].Failed)
}

func TestTrackerDialogHandledFlag(t *testing.T) {
	tr := NewEventTracker()
	tr.dialogs.push(DialogRecord{Kind: "confirm", Message: "sure?", At: time.Now()})
	tr.MarkDialogHandled()

	dialogs := tr.Dialogs()
	require.Len(t, dialogs, 1)
	assert.True(t, dialogs[0].Handled)
}

func TestTrackerPopupAdoption(t *testing.T) {
	tr := NewEventTracker()
	tr.popups.push(PopupRecord{TargetID: "t1", URL: "https://example.com/popup", At: time.Now()})
	tr.MarkPopupAdopted("t1")

	popups := tr.Popups()
	require.Len(t, popups, 1)
	assert.True(t, popups[0].Adopted)
}
