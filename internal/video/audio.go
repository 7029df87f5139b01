package video

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dudu/magicmirror/internal/logging"
)

// FinalizeOutput produces the final container from the video-only file:
// remux the source audio track in via ffmpeg when available, otherwise (or
// on any mux failure) keep the video-only file under the final name and
// surface a non-fatal warning through the log.
//
// transcode re-encodes the video stream to H.264 at the size-scaled bitrate
// with a one-second I-frame interval; it is set when the writer had to fall
// back to the mp4v fourcc.
func FinalizeOutput(sourcePath, videoOnlyPath, finalPath string, transcode bool, width, height int, fps float64) error {
	log := logging.Component("video")

	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		log.Warn("ffmpeg not found on PATH, output will have no audio track")
		return os.Rename(videoOnlyPath, finalPath)
	}

	tmpPath := strings.TrimSuffix(finalPath, ".mp4") + "_mux_tmp.mp4"

	args := []string{
		"-y",
		"-i", videoOnlyPath,
		"-i", sourcePath,
		"-map", "0:v:0",
		"-map", "1:a?",
	}
	if transcode {
		gop := int(fps + 0.5)
		if gop < 1 {
			gop = 1
		}
		args = append(args,
			"-c:v", "libx264",
			"-b:v", strconv.Itoa(CalcBitrate(width, height)),
			"-g", strconv.Itoa(gop),
		)
	} else {
		args = append(args, "-c:v", "copy")
	}
	args = append(args, "-c:a", "aac", "-shortest", tmpPath)

	cmd := exec.Command(ffmpeg, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(tmpPath)
		log.Warnf("audio remux failed, keeping silent video: %v (%s)", err, tail(string(out), 300))
		return os.Rename(videoOnlyPath, finalPath)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("failed to move muxed output: %w", err)
	}
	return os.Remove(videoOnlyPath)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
