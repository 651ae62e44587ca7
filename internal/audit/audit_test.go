package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIDIsUniquePerCall(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestLogDoesNotPanicOnSuccessOrFailure(t *testing.T) {
	assert.NotPanics(t, func() {
		Log(Record{
			ID:        NewID(),
			SessionID: "s1",
			Peer:      "alpha",
			Operation: "callTool",
			Direction: Upstream,
			Duration:  time.Millisecond,
		})
	})
	assert.NotPanics(t, func() {
		Log(Record{
			ID:        NewID(),
			SessionID: "s1",
			Peer:      "alpha",
			Operation: "callTool",
			Direction: Upstream,
			Duration:  time.Millisecond,
			Err:       errors.New("boom"),
		})
	})
}

func TestTrackReportsElapsedTimeAndError(t *testing.T) {
	done := Track("s1", "alpha", "callTool", Upstream)
	time.Sleep(time.Millisecond)
	assert.NotPanics(t, func() { done(nil) })

	done2 := Track("s1", "alpha", "callTool", Reverse)
	assert.NotPanics(t, func() { done2(errors.New("failed")) })
}
