// Package overlay brands finished videos: logo overlays on each frame and an
// optional intro clip prepended via a lossless concat. Assets come from the
// per-user media cache with a static fallback.
package overlay

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Assets are the branding inputs for one composition. Empty fields are
// simply skipped; a video with no assets passes through untouched.
type Assets struct {
	StaticLogo   string
	UserLogo     string
	SponsorLogos []string // at most three are applied
	IntroVideo   string
}

func (a Assets) empty() bool {
	return a.StaticLogo == "" && a.UserLogo == "" && len(a.SponsorLogos) == 0 && a.IntroVideo == ""
}

// Composer turns a raw (merged) file into the final branded file. It returns
// the path of the produced file, which may be the input itself when there is
// nothing to compose.
type Composer interface {
	Compose(ctx context.Context, rawFile string, assets Assets) (string, error)
}

// Runner executes an external command with a timeout, seamable for tests.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%s timed out after %v", name, timeout)
	}
	return out, err
}

// FFmpegComposer implements Composer with ffmpeg. Output lands in outDir
// under the raw file's date directory and name; when an intro clip is
// present the overlay pass and the concat pass run as separate steps so the
// intro is never re-encoded.
type FFmpegComposer struct {
	outDir  string
	timeout time.Duration
	runner  Runner
}

func NewFFmpegComposer(outDir string, timeout time.Duration) *FFmpegComposer {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &FFmpegComposer{outDir: outDir, timeout: timeout, runner: execRunner{}}
}

func (c *FFmpegComposer) Compose(ctx context.Context, rawFile string, assets Assets) (string, error) {
	// Mirror the recording tree's date partition: the same HHMMSS stem
	// recurs across days and must not collide on one processed path.
	outDir := c.outDir
	if day := filepath.Base(filepath.Dir(rawFile)); isDateDir(day) {
		outDir = filepath.Join(c.outDir, day)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %v", err)
	}
	final := filepath.Join(outDir, filepath.Base(rawFile))

	if assets.empty() {
		// Nothing to brand: copy through so the processed tree still owns
		// the deliverable.
		if err := copyFile(rawFile, final); err != nil {
			return "", err
		}
		return final, nil
	}

	overlaid := final
	if assets.IntroVideo != "" {
		overlaid = final + ".overlay.tmp.mp4"
	}

	if err := c.overlayPass(ctx, rawFile, overlaid, assets); err != nil {
		return "", err
	}

	if assets.IntroVideo != "" {
		err := c.concatPass(ctx, assets.IntroVideo, overlaid, final)
		os.Remove(overlaid)
		if err != nil {
			return "", err
		}
	}
	return final, nil
}

// overlayPass burns the logos into the frame in a single encode.
func (c *FFmpegComposer) overlayPass(ctx context.Context, in, out string, assets Assets) error {
	logos := []string{}
	if assets.StaticLogo != "" {
		logos = append(logos, assets.StaticLogo)
	}
	if assets.UserLogo != "" {
		logos = append(logos, assets.UserLogo)
	}
	for i, s := range assets.SponsorLogos {
		if i >= 3 {
			log.Printf("🖼️ OVERLAY: more than 3 sponsor logos, ignoring the rest")
			break
		}
		logos = append(logos, s)
	}

	if len(logos) == 0 {
		return copyFile(in, out)
	}

	args := []string{"-i", in}
	for _, l := range logos {
		args = append(args, "-i", l)
	}

	// Chain one overlay per logo: static top-left, user top-right, sponsors
	// along the bottom.
	var graph strings.Builder
	prev := "[0:v]"
	positions := []string{"10:10", "main_w-overlay_w-10:10", "10:main_h-overlay_h-10",
		"(main_w-overlay_w)/2:main_h-overlay_h-10", "main_w-overlay_w-10:main_h-overlay_h-10"}
	for i := range logos {
		label := fmt.Sprintf("[v%d]", i+1)
		if i == len(logos)-1 {
			label = "[out]"
		}
		pos := positions[minInt(i, len(positions)-1)]
		fmt.Fprintf(&graph, "%s[%d:v]overlay=%s%s;", prev, i+1, pos, label)
		prev = label
	}
	graphStr := strings.TrimSuffix(graph.String(), ";")

	args = append(args,
		"-filter_complex", graphStr,
		"-map", "[out]",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "20",
		"-c:a", "copy",
		"-movflags", "+faststart",
		"-y", out,
	)

	if out2, err := c.runner.Run(ctx, c.timeout, "ffmpeg", args...); err != nil {
		return fmt.Errorf("overlay pass failed: %v (%s)", err, tail(out2))
	}
	return nil
}

// concatPass prepends the intro via the concat demuxer. Both files must
// share codec parameters; the intro clips are pre-encoded to match.
func (c *FFmpegComposer) concatPass(ctx context.Context, intro, body, out string) error {
	listPath := out + ".concat.txt"
	list := fmt.Sprintf("file '%s'\nfile '%s'\n", intro, body)
	if err := os.WriteFile(listPath, []byte(list), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %v", err)
	}
	defer os.Remove(listPath)

	if out2, err := c.runner.Run(ctx, c.timeout, "ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", out,
	); err != nil {
		return fmt.Errorf("concat pass failed: %v (%s)", err, tail(out2))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %v", src, err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to copy to %s: %v", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func tail(out []byte) string {
	const n = 512
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return string(out)
}

func isDateDir(name string) bool {
	_, err := time.Parse("2006-01-02", name)
	return err == nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
