package overlay

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Thumbnail grabs one frame a second into the video as a JPEG next to it.
// The caller uploads and removes the file; extraction failures are its
// problem to downgrade to a warning.
func (c *FFmpegComposer) Thumbnail(ctx context.Context, videoPath string) (string, error) {
	out := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".jpg"
	if o, err := c.runner.Run(ctx, c.timeout, "ffmpeg",
		"-ss", "00:00:01",
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y", out,
	); err != nil {
		return "", fmt.Errorf("thumbnail extraction failed: %v (%s)", err, tail(o))
	}
	return out, nil
}
