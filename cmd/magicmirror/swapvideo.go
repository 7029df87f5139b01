package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dudu/magicmirror/internal/task"
)

var (
	flagVideoTarget   string
	flagVideoBindings string
	flagVideoKeyFrame float64
	flagVideoOutput   string
	flagAccelerator   bool
)

var swapVideoCmd = &cobra.Command{
	Use:   "swap-video <subject-video>",
	Short: "Swap faces in a video file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := taskManager()
		if err != nil {
			return err
		}

		req := task.VideoRequest{
			SubjectPath:    args[0],
			KeyFrameMs:     flagVideoKeyFrame,
			UseAccelerator: flagAccelerator,
			OutputPath:     flagVideoOutput,
		}

		if flagVideoBindings != "" {
			var imgReq task.ImageRequest
			if err := loadBindings(flagVideoBindings, &imgReq); err != nil {
				return err
			}
			req.Sources = imgReq.Sources
			req.Bindings = imgReq.Bindings
		} else {
			if flagVideoTarget == "" {
				return fmt.Errorf("either --target or --bindings is required")
			}
			req.Target, err = os.ReadFile(flagVideoTarget)
			if err != nil {
				return err
			}
		}

		handle, err := m.SwapVideo(req)
		if err != nil {
			return err
		}

		// Ctrl-C cancels the task cooperatively; partial output is removed.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "\ncancelling...")
			handle.Cancel()
		}()

		bar := progressbar.NewOptions(100,
			progressbar.OptionSetDescription("processing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
		)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

	wait:
		for {
			select {
			case <-handle.Done():
				break wait
			case <-ticker.C:
				st := handle.Progress()
				_ = bar.Set(int(st.Progress))
				if st.Stage != "" {
					bar.Describe(st.Stage)
				}
			}
		}
		_ = bar.Finish()
		fmt.Println()

		outputPath, err := handle.Await()
		if err != nil {
			return err
		}
		fmt.Println("output:", outputPath)
		return nil
	},
}

func init() {
	swapVideoCmd.Flags().StringVarP(&flagVideoTarget, "target", "t", "", "target identity photo")
	swapVideoCmd.Flags().StringVar(&flagVideoBindings, "bindings", "", "JSON array of face-source bindings on the key frame")
	swapVideoCmd.Flags().Float64Var(&flagVideoKeyFrame, "key-frame-ms", 0, "timestamp where tracks are seeded")
	swapVideoCmd.Flags().StringVarP(&flagVideoOutput, "output", "o", "", "output path (defaults to <subject>_output.mp4)")
	swapVideoCmd.Flags().BoolVar(&flagAccelerator, "accelerator", false, "prefer the platform accelerator provider")
}
