package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagKeyFrameMs float64

var detectCmd = &cobra.Command{
	Use:   "detect <image-or-video>",
	Short: "Detect faces and print selectable regions as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := taskManager()
		if err != nil {
			return err
		}

		path := args[0]
		var out any
		if isVideoPath(path) {
			out, err = m.DetectFacesInVideo(path, flagKeyFrameMs, nil)
		} else {
			var data []byte
			data, err = os.ReadFile(path)
			if err != nil {
				return err
			}
			out, err = m.DetectFacesInImage(data, nil)
		}
		if err != nil {
			return err
		}

		encoded, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

func init() {
	detectCmd.Flags().Float64Var(&flagKeyFrameMs, "key-frame-ms", 0, "video timestamp to detect on")
}
