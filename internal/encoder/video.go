package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const framePattern = "frame_%07d.png"

// EncodeVideo writes frames to a temporary directory and assembles them
// into an MP4 with ffmpeg. progress receives ratios in (0, 1] as ffmpeg
// reports encoded frames. The temporary frames are removed in all cases.
func (e *Exporter) EncodeVideo(ctx context.Context, frames []image.Image, progress func(float64)) (string, error) {
	if len(frames) == 0 {
		return "", fmt.Errorf("%w: no frames captured", ErrExportFailed)
	}
	bin, err := exec.LookPath(e.cfg.FFmpegPath)
	if err != nil {
		return "", &EnvironmentError{Tool: "ffmpeg", Err: err}
	}

	tmp, err := os.MkdirTemp("", "scenecast-frames-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	defer os.RemoveAll(tmp)

	for i, img := range frames {
		if err := writePNG(filepath.Join(tmp, fmt.Sprintf(framePattern, i+1)), img); err != nil {
			return "", fmt.Errorf("%w: frame %d: %v", ErrExportFailed, i+1, err)
		}
	}

	out, err := e.outputPath("video", "mp4")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	cmd := exec.CommandContext(ctx, bin, ffmpegArgs(e.cfg.FrameRate, out)...)
	cmd.Dir = tmp
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	e.log.Info().Int("frames", len(frames)).Str("output", out).Msg("Encoding video")
	if err := cmd.Start(); err != nil {
		return "", &EnvironmentError{Tool: "ffmpeg", Err: err}
	}
	readProgress(stdout, len(frames), progress)
	if err := cmd.Wait(); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("%w: ffmpeg: %v: %s", ErrExportFailed, err, tail(stderr.String(), 5))
	}
	return out, nil
}

// ffmpegArgs builds the encode command. Single-threaded x264 with even
// output dimensions keeps the result playable everywhere.
func ffmpegArgs(frameRate int, out string) []string {
	return []string{
		"-y", "-nostats",
		"-r", strconv.Itoa(frameRate), "-i", framePattern,
		"-threads", "1",
		"-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency", "-pix_fmt", "yuv420p",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-progress", "pipe:1",
		out,
	}
}

// readProgress consumes ffmpeg's key=value progress stream.
func readProgress(r io.Reader, total int, progress func(float64)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok || key != "frame" || progress == nil {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n <= 0 {
			continue
		}
		progress(min(1, float64(n)/float64(total)))
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func tail(s string, lines int) string {
	parts := strings.Split(strings.TrimSpace(s), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "; ")
}
