package recorder

import (
	"context"
	"fmt"
	"os/exec"
)

// buildConcatArgs constructs the MP4-assembly argument list: concat
// demuxer, stream-copy, faststart for immediate playback.
func buildConcatArgs(manifestPath, outputPath string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		"-movflags", "+faststart",
		outputPath,
	}
}

// runConcat invokes ffmpeg to assemble outputPath from manifestPath,
// capturing combined output for diagnostics on failure.
func runConcat(ctx context.Context, ffmpegPath, manifestPath, outputPath string) error {
	args := buildConcatArgs(manifestPath, outputPath)
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w: %s", err, out)
	}
	return nil
}
