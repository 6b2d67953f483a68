package detector

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// frameMetric is one decoded frame's raw signal statistics, as parsed out
// of ffmpeg's metadata=print output.
type frameMetric struct {
	PTSSeconds float64
	YAVG       float64
	Scene      float64
}

// buildFFmpegArgs constructs the SUB-stream metadata-extraction argument
// list: signalstats for mean luminance, a scene-change score as the
// motion proxy, both surfaced per-frame via metadata=print.
func buildFFmpegArgs(rtspURL string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-vf", "signalstats,select='gte(scene\\,0)',metadata=print",
		"-f", "null",
		"-",
	}
}

// parseMetadataStream scans ffmpeg's per-frame metadata=print output and
// delivers one frameMetric per completed frame block to out. It returns
// once r is exhausted (ffmpeg exited) or the scanner errors.
func parseMetadataStream(r io.Reader, out chan<- frameMetric) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1<<20)

	var cur frameMetric
	have := false

	flush := func() {
		if have {
			out <- cur
		}
		cur = frameMetric{}
		have = false
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "frame:") {
			flush()
			have = true
			cur.PTSSeconds = parsePTSTime(line)
			continue
		}

		if !have {
			continue
		}

		switch {
		case strings.Contains(line, "lavfi.signalstats.YAVG="):
			cur.YAVG = parseKeyValueFloat(line)
		case strings.Contains(line, "lavfi.scene_score="):
			cur.Scene = parseKeyValueFloat(line)
		}
	}
	flush()
}

// parsePTSTime extracts the pts_time field from a "frame:N pts:N
// pts_time:T" line.
func parsePTSTime(line string) float64 {
	const marker = "pts_time:"
	idx := strings.Index(line, marker)
	if idx < 0 {
		return 0
	}
	rest := line[idx+len(marker):]
	end := strings.IndexByte(rest, ' ')
	if end >= 0 {
		rest = rest[:end]
	}
	v, _ := strconv.ParseFloat(rest, 64)
	return v
}

// parseKeyValueFloat extracts the float64 value from a "key=value" line.
func parseKeyValueFloat(line string) float64 {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
	return v
}
