// Package tracker carries face identities across video frames. A track
// holds the last matched box and survives short detection gaps; detection
// runs exactly once per frame and never again after a swap.
package tracker

import (
	"sort"

	"github.com/dudu/magicmirror/internal/detector"
	"github.com/dudu/magicmirror/internal/geometry"
	"github.com/dudu/magicmirror/internal/selection"
)

const (
	// MatchIoU is the minimum overlap for an IoU match.
	MatchIoU = 0.05
	// CentroidFactor scales the track diagonal into the centroid-fallback
	// search radius.
	CentroidFactor = 0.65
	// MaxMissedFrames drops a track after this many consecutive misses.
	MaxMissedFrames = 45
)

// Track is a stateful identity anchor across frames.
type Track struct {
	ID           int
	FaceSourceID string
	LastBox      geometry.Box
	Missed       int
}

// Assignment pairs a track with the index of its matched detection for the
// current frame.
type Assignment struct {
	Track     *Track
	FaceIndex int
}

// Set owns the active tracks of one video task. Not safe for concurrent
// use; the video pipeline serializes access under its own lock.
type Set struct {
	tracks []*Track
	nextID int
}

// NewSet returns an empty track set.
func NewSet() *Set {
	return &Set{nextID: 1}
}

// Active returns the live tracks.
func (s *Set) Active() []*Track {
	return s.tracks
}

// Seed creates one track per bound region from the key-frame detections,
// using the region binding rule. Regions that bind no detection are skipped;
// each detection seeds at most one track.
func (s *Set) Seed(regions []selection.Region, faces []detector.Face) {
	used := make(map[int]bool)
	for _, region := range regions {
		if region.FaceSourceID == "" {
			continue
		}
		idx, ok := selection.BindExcluding(region, faces, used)
		if !ok {
			continue
		}
		used[idx] = true
		s.tracks = append(s.tracks, &Track{
			ID:           s.nextID,
			FaceSourceID: region.FaceSourceID,
			LastBox:      faces[idx].Box,
		})
		s.nextID++
	}
}

// Match assigns this frame's detections to active tracks: greedy best-IoU
// first, then a nearest-centroid fallback bounded by the track diagonal.
// Matched tracks are refreshed; unmatched ones age and expire.
func (s *Set) Match(faces []detector.Face) []Assignment {
	type pair struct {
		iou      float32
		track    int
		face     int
	}

	var candidates []pair
	for ti, t := range s.tracks {
		for fi, f := range faces {
			if iou := geometry.IoU(t.LastBox, f.Box); iou >= MatchIoU {
				candidates = append(candidates, pair{iou: iou, track: ti, face: fi})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].iou > candidates[j].iou
	})

	matchedTracks := make(map[int]bool)
	matchedFaces := make(map[int]bool)
	var out []Assignment

	for _, c := range candidates {
		if matchedTracks[c.track] || matchedFaces[c.face] {
			continue
		}
		matchedTracks[c.track] = true
		matchedFaces[c.face] = true
		out = append(out, Assignment{Track: s.tracks[c.track], FaceIndex: c.face})
	}

	// Centroid fallback for tracks the IoU pass left behind.
	for ti, t := range s.tracks {
		if matchedTracks[ti] {
			continue
		}
		best := -1
		var bestDist float32
		for fi, f := range faces {
			if matchedFaces[fi] {
				continue
			}
			d := geometry.CenterDistance(t.LastBox, f.Box)
			if best < 0 || d < bestDist {
				best = fi
				bestDist = d
			}
		}
		if best >= 0 && bestDist <= CentroidFactor*t.LastBox.Diagonal() {
			matchedTracks[ti] = true
			matchedFaces[best] = true
			out = append(out, Assignment{Track: s.tracks[ti], FaceIndex: best})
		}
	}

	for _, a := range out {
		a.Track.LastBox = faces[a.FaceIndex].Box
		a.Track.Missed = 0
	}

	survivors := s.tracks[:0]
	for ti, t := range s.tracks {
		if !matchedTracks[ti] {
			t.Missed++
		}
		if t.Missed <= MaxMissedFrames {
			survivors = append(survivors, t)
		}
	}
	s.tracks = survivors

	return out
}
