package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dudu/magicmirror/internal/imaging"
	"github.com/dudu/magicmirror/internal/selection"
	"github.com/dudu/magicmirror/internal/task"
)

var (
	flagTarget   string
	flagRegions  string
	flagBindings string
	flagOutput   string
)

var swapCmd = &cobra.Command{
	Use:   "swap <subject-image>",
	Short: "Swap faces in a still image",
	Long: `Swap faces in a still image.

Single identity:
  magicmirror swap subject.jpg --target face.png

Multi-source, different identities per region (bindings are JSON):
  magicmirror swap group.jpg \
    --bindings '[{"faceSourceId":"a.png","region":{"x":10,"y":20,"width":200,"height":200}}]'

Binding face source IDs are paths to identity photos; bindings apply in
order, each seeing the output of the previous one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := taskManager()
		if err != nil {
			return err
		}

		subjectPath := args[0]
		if !imaging.IsSupportedImageExt(subjectPath) {
			return fmt.Errorf("unsupported image format: %s", subjectPath)
		}
		subject, err := os.ReadFile(subjectPath)
		if err != nil {
			return err
		}

		req := task.ImageRequest{
			Subject:   subject,
			OutputExt: strings.ToLower(filepath.Ext(subjectPath)),
		}

		if flagBindings != "" {
			if err := loadBindings(flagBindings, &req); err != nil {
				return err
			}
		} else {
			if flagTarget == "" {
				return fmt.Errorf("either --target or --bindings is required")
			}
			req.Target, err = os.ReadFile(flagTarget)
			if err != nil {
				return err
			}
			if flagRegions != "" {
				if err := json.Unmarshal([]byte(flagRegions), &req.Regions); err != nil {
					return fmt.Errorf("invalid --regions: %w", err)
				}
			}
		}

		result, err := m.SwapImage(req)
		if err != nil {
			return err
		}

		outPath := flagOutput
		if outPath == "" {
			outPath = imaging.OutputPath(subjectPath)
		}
		if err := os.WriteFile(outPath, result.Image, 0o644); err != nil {
			return err
		}

		fmt.Printf("swapped %d face(s) -> %s\n", result.SwappedFaces, outPath)
		for _, rr := range result.RegionResults {
			if !rr.Swapped {
				fmt.Printf("no face in region %dx%d+%d+%d\n", rr.Region.Width, rr.Region.Height, rr.Region.X, rr.Region.Y)
			}
		}
		return nil
	},
}

// loadBindings parses the bindings JSON and reads each referenced identity
// photo once.
func loadBindings(raw string, req *task.ImageRequest) error {
	var entries []struct {
		FaceSourceID string            `json:"faceSourceId"`
		Region       *selection.Region `json:"region"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return fmt.Errorf("invalid --bindings: %w", err)
	}

	seen := map[string]bool{}
	for _, e := range entries {
		if e.FaceSourceID == "" {
			return fmt.Errorf("binding without faceSourceId")
		}
		if !seen[e.FaceSourceID] {
			data, err := os.ReadFile(e.FaceSourceID)
			if err != nil {
				return err
			}
			req.Sources = append(req.Sources, task.FaceSource{ID: e.FaceSourceID, Image: data})
			seen[e.FaceSourceID] = true
		}
		req.Bindings = append(req.Bindings, task.Binding{FaceSourceID: e.FaceSourceID, Region: e.Region})
	}
	return nil
}

func isVideoPath(path string) bool {
	return imaging.IsSupportedVideoExt(path)
}

func init() {
	swapCmd.Flags().StringVarP(&flagTarget, "target", "t", "", "target identity photo")
	swapCmd.Flags().StringVar(&flagRegions, "regions", "", "JSON array of regions to restrict the swap to")
	swapCmd.Flags().StringVar(&flagBindings, "bindings", "", "JSON array of face-source bindings")
	swapCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output path (defaults to <subject>_output.<ext>)")
}
