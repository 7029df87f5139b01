package detector

import (
	"sort"

	"github.com/dudu/magicmirror/internal/geometry"
)

// nms performs Non-Maximum Suppression on detected faces. The result depends
// only on the multiset of inputs: candidates are ordered by score descending
// with ties kept in first-occurrence order.
func nms(faces []Face, iouThreshold float32) []Face {
	if len(faces) == 0 {
		return faces
	}

	sorted := make([]Face, len(faces))
	copy(sorted, faces)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	keep := make([]bool, len(sorted))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(sorted); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if !keep[j] {
				continue
			}
			if geometry.IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]Face, 0, len(sorted))
	for i, face := range sorted {
		if keep[i] {
			result = append(result, face)
		}
	}

	return result
}
