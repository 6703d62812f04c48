package merge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeRunner simulates ffprobe and ffmpeg. ffprobe returns canned stream
// JSON; ffmpeg writes a dummy output file unless told to fail.
type fakeRunner struct {
	ffmpegFailures int // how many ffmpeg runs fail before success
	ffmpegCalls    int
	probeCalls     int
	stitcherCalls  int
	stitcherFails  bool
	outputSize     int
	graphs         []string
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	switch {
	case name == "ffprobe":
		f.probeCalls++
		path := args[len(args)-1]
		if strings.Contains(path, "corrupt") {
			return nil, fmt.Errorf("moov atom not found")
		}
		return []byte(`{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,"r_frame_rate":"30/1"}],"format":{"duration":"600.5"}}`), nil
	case name == "ffmpeg":
		f.ffmpegCalls++
		if f.ffmpegCalls <= f.ffmpegFailures {
			return []byte("ffmpeg exploded"), fmt.Errorf("exit status 1")
		}
		for i, a := range args {
			if a == "-filter_complex" {
				f.graphs = append(f.graphs, args[i+1])
			}
		}
		out := args[len(args)-1]
		size := f.outputSize
		if size == 0 {
			size = 2 << 20
		}
		return nil, os.WriteFile(out, bytes.Repeat([]byte("x"), size), 0644)
	default:
		f.stitcherCalls++
		if f.stitcherFails {
			return nil, fmt.Errorf("calibration mismatch")
		}
		out := ""
		for i, a := range args {
			if a == "--output" {
				out = args[i+1]
			}
		}
		return nil, os.WriteFile(out, bytes.Repeat([]byte("x"), 2<<20), 0644)
	}
}

func writeInput(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bytes.Repeat([]byte("v"), size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testEngine(opts Options, r Runner) *Engine {
	e := NewEngine(opts)
	e.runner = r
	return e
}

func TestMergeSuccess(t *testing.T) {
	dir := t.TempDir()
	left := writeInput(t, dir, "100000-110000_cam1.mp4", 2<<20)
	right := writeInput(t, dir, "100000-110000_cam2.mp4", 2<<20)
	out := filepath.Join(dir, "100000-110000.mp4")

	fr := &fakeRunner{}
	e := testEngine(Options{FeatherWidth: 100}, fr)

	res := e.Merge(context.Background(), left, right, out)
	if !res.Success || res.Status != StatusCompleted {
		t.Fatalf("merge failed: %+v", res)
	}
	if res.FileSize != 2<<20 || res.Duration != 600.5 {
		t.Errorf("unexpected result metadata: %+v", res)
	}
	if fr.ffmpegCalls != 1 {
		t.Errorf("expected 1 ffmpeg run, got %d", fr.ffmpegCalls)
	}
	if len(fr.graphs) != 1 || !strings.Contains(fr.graphs[0], "hstack=inputs=3") {
		t.Errorf("unexpected filtergraph: %v", fr.graphs)
	}
}

func TestMergeMethodDispatch(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{MethodSideBySide, "A*(1-X/W)+B*(X/W)"},
		{MethodAdvancedStitch, "pow(X/W,3)"},
		{MethodStacked, "vstack=inputs=2"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			dir := t.TempDir()
			left := writeInput(t, dir, "a_cam1.mp4", 2<<20)
			right := writeInput(t, dir, "a_cam2.mp4", 2<<20)

			fr := &fakeRunner{}
			e := testEngine(Options{Method: tt.method, FeatherWidth: 100}, fr)
			res := e.Merge(context.Background(), left, right, filepath.Join(dir, "a.mp4"))
			if !res.Success {
				t.Fatalf("merge failed: %+v", res)
			}
			if !strings.Contains(fr.graphs[0], tt.want) {
				t.Errorf("graph for %s missing %q: %s", tt.method, tt.want, fr.graphs[0])
			}
		})
	}
}

func TestMergeUnknownMethod(t *testing.T) {
	dir := t.TempDir()
	left := writeInput(t, dir, "a_cam1.mp4", 2<<20)
	right := writeInput(t, dir, "a_cam2.mp4", 2<<20)

	e := testEngine(Options{Method: "diagonal"}, &fakeRunner{})
	res := e.Merge(context.Background(), left, right, filepath.Join(dir, "a.mp4"))
	if res.Success || !strings.Contains(res.ErrorMessage, "unknown merge method") {
		t.Fatalf("expected unknown-method failure, got %+v", res)
	}
}

func TestMergeRejectsTinyInput(t *testing.T) {
	dir := t.TempDir()
	left := writeInput(t, dir, "a_cam1.mp4", 10) // far below the floor
	right := writeInput(t, dir, "a_cam2.mp4", 2<<20)

	e := testEngine(Options{}, &fakeRunner{})
	res := e.Merge(context.Background(), left, right, filepath.Join(dir, "a.mp4"))
	if res.Success || !strings.Contains(res.ErrorMessage, "left input invalid") {
		t.Fatalf("expected input rejection, got %+v", res)
	}
}

func TestMergeRetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	left := writeInput(t, dir, "a_cam1.mp4", 2<<20)
	right := writeInput(t, dir, "a_cam2.mp4", 2<<20)

	fr := &fakeRunner{ffmpegFailures: 2}
	e := testEngine(Options{MaxRetries: 3}, fr)
	res := e.Merge(context.Background(), left, right, filepath.Join(dir, "a.mp4"))
	if !res.Success {
		t.Fatalf("expected eventual success: %+v", res)
	}
	if res.RetryCount != 2 || fr.ffmpegCalls != 3 {
		t.Errorf("retry accounting wrong: retries=%d calls=%d", res.RetryCount, fr.ffmpegCalls)
	}
}

func TestMergeExhaustionWritesDebugArtifact(t *testing.T) {
	dir := t.TempDir()
	left := writeInput(t, dir, "a_cam1.mp4", 2<<20)
	right := writeInput(t, dir, "a_cam2.mp4", 2<<20)
	out := filepath.Join(dir, "a.mp4")

	fr := &fakeRunner{ffmpegFailures: 99}
	e := testEngine(Options{MaxRetries: 2}, fr)
	res := e.Merge(context.Background(), left, right, out)
	if res.Success {
		t.Fatal("expected exhaustion failure")
	}

	data, err := os.ReadFile(out + ".debug.txt")
	if err != nil {
		t.Fatalf("debug artifact not written: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, left) || !strings.Contains(body, "ffmpeg exploded") {
		t.Errorf("debug artifact incomplete:\n%s", body)
	}
	// No partial output left behind.
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("partial output not cleaned up")
	}
}

func TestMergeRejectsTinyOutput(t *testing.T) {
	dir := t.TempDir()
	left := writeInput(t, dir, "a_cam1.mp4", 2<<20)
	right := writeInput(t, dir, "a_cam2.mp4", 2<<20)

	fr := &fakeRunner{outputSize: 100}
	e := testEngine(Options{MaxRetries: 1}, fr)
	res := e.Merge(context.Background(), left, right, filepath.Join(dir, "a.mp4"))
	if res.Success || !strings.Contains(res.ErrorMessage, "merge failed after 1 attempts") {
		t.Fatalf("expected output rejection, got %+v", res)
	}
}

func TestHomographyFallback(t *testing.T) {
	dir := t.TempDir()
	left := writeInput(t, dir, "a_cam1.mp4", 2<<20)
	right := writeInput(t, dir, "a_cam2.mp4", 2<<20)

	fr := &fakeRunner{stitcherFails: true}
	e := testEngine(Options{UseHomography: true, StitcherBinary: "pano-stitch", FeatherWidth: 50}, fr)
	res := e.Merge(context.Background(), left, right, filepath.Join(dir, "a.mp4"))
	if !res.Success {
		t.Fatalf("expected fallback success: %+v", res)
	}
	if fr.stitcherCalls != 1 || fr.ffmpegCalls != 1 {
		t.Errorf("expected stitcher then ffmpeg fallback: stitcher=%d ffmpeg=%d", fr.stitcherCalls, fr.ffmpegCalls)
	}
}

func TestHomographySuccessSkipsFiltergraph(t *testing.T) {
	dir := t.TempDir()
	left := writeInput(t, dir, "a_cam1.mp4", 2<<20)
	right := writeInput(t, dir, "a_cam2.mp4", 2<<20)

	fr := &fakeRunner{}
	e := testEngine(Options{UseHomography: true, StitcherBinary: "pano-stitch"}, fr)
	res := e.Merge(context.Background(), left, right, filepath.Join(dir, "a.mp4"))
	if !res.Success {
		t.Fatalf("expected stitcher success: %+v", res)
	}
	if fr.ffmpegCalls != 0 {
		t.Errorf("filtergraph path ran despite stitcher success: %d", fr.ffmpegCalls)
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001},
		{"25", 25},
		{"0/0", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
