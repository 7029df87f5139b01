package task

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := E(CodeNoFaceDetected, nil)
	assert.Equal(t, CodeNoFaceDetected, CodeOf(err))
	assert.Equal(t, "no-face-detected", err.Error())

	wrapped := fmt.Errorf("running task: %w", E(CodeVideoOpenFailed, errors.New("bad header")))
	assert.Equal(t, CodeVideoOpenFailed, CodeOf(wrapped))

	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := E(CodeOutputWriteFailed, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestHandleLifecycleSuccess(t *testing.T) {
	h := newHandle()
	require.NotEmpty(t, h.ID())
	assert.Equal(t, StateQueued, h.Progress().State)

	h.setRunning()
	h.setStage(StageProcessingFrames)
	h.setProgress(40, 12)

	st := h.Progress()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, StageProcessingFrames, st.Stage)
	assert.InDelta(t, 40, st.Progress, 1e-6)
	assert.InDelta(t, 12, st.ETASeconds, 1e-6)

	h.finish("/tmp/out.mp4", nil)
	st = h.Progress()
	assert.Equal(t, StateSucceeded, st.State)
	assert.InDelta(t, 100, st.Progress, 1e-6)
	assert.Equal(t, "/tmp/out.mp4", st.OutputPath)

	out, err := h.Await()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.mp4", out)
}

func TestHandleLifecycleFailure(t *testing.T) {
	h := newHandle()
	h.setRunning()
	h.finish("", E(CodeVideoWriteFailed, errors.New("enc")))

	st := h.Progress()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, CodeVideoWriteFailed, st.ErrorCode)

	_, err := h.Await()
	assert.Equal(t, CodeVideoWriteFailed, CodeOf(err))
}

func TestHandleLifecycleCancelled(t *testing.T) {
	h := newHandle()
	h.setRunning()
	assert.False(t, h.Cancelled())
	h.Cancel()
	assert.True(t, h.Cancelled())

	h.finish("", E(CodeCancelled, nil))
	st := h.Progress()
	assert.Equal(t, StateCancelled, st.State)
	assert.Equal(t, CodeCancelled, st.ErrorCode)
}

func TestHandleProgressClamp(t *testing.T) {
	h := newHandle()
	h.setProgress(140, 0)
	assert.InDelta(t, 100, h.Progress().Progress, 1e-6)
}

func TestHandleDoneChannel(t *testing.T) {
	h := newHandle()
	select {
	case <-h.Done():
		t.Fatal("done before finish")
	default:
	}
	h.finish("", nil)
	select {
	case <-h.Done():
	default:
		t.Fatal("done not closed after finish")
	}
}
