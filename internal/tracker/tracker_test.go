package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/geometry"
	"github.com/dudu/magicmirror/internal/selection"
)

func faceAt(x, y, w, h float32) detector.Face {
	return detector.Face{
		Box:   geometry.Box{X1: x, Y1: y, X2: x + w, Y2: y + h},
		Score: 0.9,
	}
}

func seededSet(t *testing.T) *Set {
	t.Helper()
	faces := []detector.Face{
		faceAt(100, 100, 80, 80),
		faceAt(400, 100, 80, 80),
	}
	regions := []selection.Region{
		{X: 90, Y: 90, Width: 100, Height: 100, FaceSourceID: "alice"},
		{X: 390, Y: 90, Width: 100, Height: 100, FaceSourceID: "bob"},
	}
	s := NewSet()
	s.Seed(regions, faces)
	require.Len(t, s.Active(), 2)
	return s
}

func TestSeedBindsRegionsToDetections(t *testing.T) {
	s := seededSet(t)
	assert.Equal(t, "alice", s.Active()[0].FaceSourceID)
	assert.Equal(t, "bob", s.Active()[1].FaceSourceID)
	assert.InDelta(t, 100, s.Active()[0].LastBox.X1, 1e-4)
	assert.InDelta(t, 400, s.Active()[1].LastBox.X1, 1e-4)
}

func TestSeedSkipsUnboundRegions(t *testing.T) {
	s := NewSet()
	s.Seed([]selection.Region{
		{X: 0, Y: 0, Width: 50, Height: 50, FaceSourceID: "ghost"},
	}, []detector.Face{faceAt(800, 800, 60, 60)})
	assert.Empty(t, s.Active())
}

func TestMatchByIoU(t *testing.T) {
	s := seededSet(t)

	// Both faces drifted slightly; IoU matching follows them.
	faces := []detector.Face{
		faceAt(410, 105, 80, 80), // bob first in detection order
		faceAt(108, 104, 80, 80),
	}
	out := s.Match(faces)
	require.Len(t, out, 2)

	byID := map[string]int{}
	for _, a := range out {
		byID[a.Track.FaceSourceID] = a.FaceIndex
	}
	assert.Equal(t, 1, byID["alice"])
	assert.Equal(t, 0, byID["bob"])
	assert.Zero(t, s.Active()[0].Missed)
}

func TestMatchCentroidFallback(t *testing.T) {
	s := seededSet(t)

	// Alice jumped past the IoU threshold (overlap ~0.046) but her center
	// stays within 0.65 x diagonal of the last box (~73.5 px); bob
	// disappeared this frame.
	faces := []detector.Face{faceAt(173, 100, 80, 80)}
	out := s.Match(faces)
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Track.FaceSourceID)

	// Bob aged by one.
	for _, tr := range s.Active() {
		if tr.FaceSourceID == "bob" {
			assert.Equal(t, 1, tr.Missed)
		}
	}
}

func TestMatchCentroidOutOfRange(t *testing.T) {
	s := seededSet(t)
	// A detection far from both tracks matches neither.
	out := s.Match([]detector.Face{faceAt(900, 900, 80, 80)})
	assert.Empty(t, out)
}

func TestTrackExpiresAfterMaxMisses(t *testing.T) {
	s := seededSet(t)

	// 45 consecutive misses keep both tracks alive.
	for i := 0; i < MaxMissedFrames; i++ {
		s.Match(nil)
	}
	assert.Len(t, s.Active(), 2)

	// The 46th drops them.
	s.Match(nil)
	assert.Empty(t, s.Active())
}

func TestReappearanceAfterDropGetsNoBinding(t *testing.T) {
	s := seededSet(t)
	for i := 0; i <= MaxMissedFrames; i++ {
		s.Match(nil)
	}
	require.Empty(t, s.Active())

	// The face comes back; with no live track it matches nothing and no
	// new track is created, so it passes through unswapped.
	out := s.Match([]detector.Face{faceAt(100, 100, 80, 80)})
	assert.Empty(t, out)
	assert.Empty(t, s.Active())
}

func TestMatchPrefersHigherIoU(t *testing.T) {
	s := NewSet()
	s.Seed([]selection.Region{
		{X: 90, Y: 90, Width: 100, Height: 100, FaceSourceID: "solo"},
	}, []detector.Face{faceAt(100, 100, 80, 80)})
	require.Len(t, s.Active(), 1)

	// Two candidates overlap the track; the tighter one wins.
	faces := []detector.Face{
		faceAt(130, 130, 80, 80),
		faceAt(102, 101, 80, 80),
	}
	out := s.Match(faces)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].FaceIndex)
}
