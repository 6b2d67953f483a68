package segmentbuffer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// buildFFmpegArgs constructs the MAIN-capture argument list per the HLS
// capture contract: copy-only, fixed-duration MPEG-TS segments named
// clip_%05d.ts. With -hls_list_size 0 the playlist keeps every segment,
// so the muxer deletes none; retention is enforced by the Buffer.
func buildFFmpegArgs(rtspURL string, segmentSeconds int) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_type", "mpegts",
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", "clip_%05d.ts",
		"playlist.m3u8",
	}
}

var credentialRE = regexp.MustCompile(`(rtsps?|https?)://[^/@]+@`)

// sanitizeURLForLog redacts embedded basic-auth credentials before a URL
// is ever written to a log line.
func sanitizeURLForLog(rawURL string) string {
	return credentialRE.ReplaceAllStringFunc(rawURL, func(m string) string {
		idx := strings.Index(m, "://")
		return m[:idx+3] + "***:***@"
	})
}

// runFFmpeg starts ffmpeg with buildFFmpegArgs and blocks until it exits
// or ctx is cancelled. The started *exec.Cmd is handed to onStart so the
// caller can track it for graceful shutdown / hard-kill.
func runFFmpeg(ctx context.Context, ffmpegPath, rtspURL, dir string, segmentSeconds int, logger *slog.Logger, onStart func(*exec.Cmd)) error {
	args := buildFFmpegArgs(rtspURL, segmentSeconds)
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Dir = dir

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	onStart(cmd)

	go scanStderr(stderr, logger)

	return cmd.Wait()
}

// scanStderr drains ffmpeg's stderr at debug level so it is available in
// structured logs without ever blocking the process on a full pipe.
func scanStderr(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		logger.Debug("ffmpeg", "line", scanner.Text())
	}
}
