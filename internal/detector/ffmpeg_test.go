package detector

import (
	"strings"
	"testing"
)

const sampleMetadataOutput = `frame:0    pts:0      pts_time:0
lavfi.signalstats.YAVG=100.500000
lavfi.scene_score=0.010000
frame:1    pts:3003   pts_time:0.1001
lavfi.signalstats.YAVG=150.250000
lavfi.scene_score=0.500000
`

func TestParseMetadataStream(t *testing.T) {
	out := make(chan frameMetric, 8)
	parseMetadataStream(strings.NewReader(sampleMetadataOutput), out)
	close(out)

	var metrics []frameMetric
	for m := range out {
		metrics = append(metrics, m)
	}

	if len(metrics) != 2 {
		t.Fatalf("len(metrics) = %d, want 2", len(metrics))
	}
	if metrics[0].YAVG != 100.5 || metrics[0].Scene != 0.01 {
		t.Errorf("metrics[0] = %+v, want YAVG=100.5 Scene=0.01", metrics[0])
	}
	if metrics[1].PTSSeconds != 0.1001 {
		t.Errorf("metrics[1].PTSSeconds = %v, want 0.1001", metrics[1].PTSSeconds)
	}
}

func TestBuildFFmpegArgsIncludesRTSPURL(t *testing.T) {
	args := buildFFmpegArgs("rtsp://cam/sub")
	found := false
	for _, a := range args {
		if a == "rtsp://cam/sub" {
			found = true
		}
	}
	if !found {
		t.Errorf("args %v do not include rtsp URL", args)
	}
}
