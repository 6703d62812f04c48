package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds ffprobe, which occasionally hangs on a file whose moov
// atom is missing.
const probeTimeout = 30 * time.Second

// StreamInfo is what the engine needs to know about a video stream.
type StreamInfo struct {
	Width     int
	Height    int
	Codec     string
	Duration  float64
	FrameRate float64
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeStream runs ffprobe against a file and returns its first video
// stream.
func probeStream(ctx context.Context, runner Runner, path string) (StreamInfo, error) {
	out, err := runner.Run(ctx, probeTimeout, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams", "-show_format",
		path)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("ffprobe failed for %s: %v", path, err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return StreamInfo{}, fmt.Errorf("ffprobe output for %s unparseable: %v", path, err)
	}

	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		info := StreamInfo{
			Width:  s.Width,
			Height: s.Height,
			Codec:  s.CodecName,
		}
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			info.Duration = d
		}
		info.FrameRate = parseFrameRate(s.RFrameRate)
		if info.Width <= 0 || info.Height <= 0 {
			return StreamInfo{}, fmt.Errorf("video stream in %s has no dimensions", path)
		}
		return info, nil
	}
	return StreamInfo{}, fmt.Errorf("no video stream in %s", path)
}

// ProbeFile inspects a video file with ffprobe. It is the validation entry
// point used outside the merge flow.
func ProbeFile(ctx context.Context, path string) (StreamInfo, error) {
	return probeStream(ctx, execRunner{}, path)
}

// parseFrameRate converts ffprobe's "30000/1001" form to a float.
func parseFrameRate(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	f, _ := strconv.ParseFloat(r, 64)
	return f
}
