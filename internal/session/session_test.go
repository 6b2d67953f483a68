package session

import (
	"strings"
	"testing"
	"time"

	"github.com/Seer-Labs-Inc/device-pilot/internal/domain"
)

func seg(seq uint64, createdAt time.Time) domain.Segment {
	return domain.Segment{Path: "/buf/clip.ts", Seq: seq, CreatedAt: createdAt, Duration: 5 * time.Second}
}

func TestOpenAdoptsPreRollAndEntersRecording(t *testing.T) {
	start := time.Unix(100, 0)
	preRoll := []domain.Segment{seg(1, start.Add(-6*time.Second)), seg(2, start.Add(-1*time.Second))}

	s := Open("sess-1", preRoll, start, 10*time.Second, 5*time.Second, "/evidence")

	if s.Phase != domain.Recording {
		t.Fatalf("Phase = %v, want RECORDING", s.Phase)
	}
	if got := s.SegmentPaths(); len(got) != 2 {
		t.Fatalf("SegmentPaths() = %v, want 2 entries", got)
	}
}

func TestOnSegmentIgnoresBeforePreRollCutoff(t *testing.T) {
	start := time.Unix(100, 0)
	s := Open("sess-1", nil, start, 3*time.Second, 5*time.Second, "/evidence")

	// cutoff = start - 3s = 97; a segment created at 90 is too old.
	s.OnSegment(seg(1, time.Unix(90, 0)))
	s.OnSegment(seg(2, time.Unix(98, 0)))

	paths := s.SegmentPaths()
	if len(paths) != 1 {
		t.Fatalf("SegmentPaths() = %v, want exactly the in-window segment", paths)
	}
}

func TestOnSegmentIgnoredOutsideDrainingPhases(t *testing.T) {
	start := time.Unix(100, 0)
	s := Open("sess-1", nil, start, 0, 5*time.Second, "/evidence")
	s.OnMotionStop(start)
	s.Tick(start.Add(5 * time.Second))
	if s.Phase != domain.Finalizing {
		t.Fatalf("Phase = %v, want FINALIZING", s.Phase)
	}

	before := len(s.SegmentPaths())
	s.OnSegment(seg(1, start.Add(10*time.Second)))
	if got := len(s.SegmentPaths()); got != before {
		t.Fatalf("OnSegment appended while FINALIZING: got %d segments, want %d", got, before)
	}
}

func TestMotionStopEntersCooldownWithDeadline(t *testing.T) {
	start := time.Unix(100, 0)
	s := Open("sess-1", nil, start, 0, 5*time.Second, "/evidence")

	stopAt := start.Add(8 * time.Second)
	s.OnMotionStop(stopAt)

	if s.Phase != domain.Cooldown {
		t.Fatalf("Phase = %v, want COOLDOWN", s.Phase)
	}
	want := stopAt.Add(5 * time.Second)
	if !s.CooldownDeadline.Equal(want) {
		t.Fatalf("CooldownDeadline = %v, want %v", s.CooldownDeadline, want)
	}
}

func TestMotionStartDuringCooldownResumesRecording(t *testing.T) {
	start := time.Unix(100, 0)
	s := Open("sess-1", nil, start, 0, 5*time.Second, "/evidence")
	s.OnMotionStop(start.Add(time.Second))
	s.OnMotionStart()

	if s.Phase != domain.Recording {
		t.Fatalf("Phase = %v, want RECORDING", s.Phase)
	}
	if !s.CooldownDeadline.IsZero() {
		t.Fatalf("CooldownDeadline = %v, want zero after resuming", s.CooldownDeadline)
	}
}

func TestMotionStartWhileRecordingIsIdempotent(t *testing.T) {
	start := time.Unix(100, 0)
	s := Open("sess-1", nil, start, 0, 5*time.Second, "/evidence")
	s.OnMotionStart()
	s.OnMotionStart()

	if s.Phase != domain.Recording {
		t.Fatalf("Phase = %v, want RECORDING", s.Phase)
	}
}

func TestTickTransitionsToFinalizingAtDeadline(t *testing.T) {
	start := time.Unix(100, 0)
	s := Open("sess-1", nil, start, 0, 5*time.Second, "/evidence")
	s.OnMotionStop(start)

	s.Tick(start.Add(4 * time.Second))
	if s.Phase != domain.Cooldown {
		t.Fatalf("Phase = %v, want still COOLDOWN before deadline", s.Phase)
	}

	s.Tick(start.Add(5 * time.Second))
	if s.Phase != domain.Finalizing {
		t.Fatalf("Phase = %v, want FINALIZING at deadline", s.Phase)
	}
	if s.OutputPath == "" || !strings.HasSuffix(s.OutputPath, "sess-1.mp4") {
		t.Fatalf("OutputPath = %q, want path ending in sess-1.mp4", s.OutputPath)
	}
}

func TestCooldownZeroFinalizesWithinOneTickOfStop(t *testing.T) {
	start := time.Unix(100, 0)
	s := Open("sess-1", nil, start, 0, 0, "/evidence")
	stopAt := start.Add(2 * time.Second)
	s.OnMotionStop(stopAt)

	s.Tick(stopAt)
	if s.Phase != domain.Finalizing {
		t.Fatalf("Phase = %v, want FINALIZING immediately when cooldown=0", s.Phase)
	}
}

func TestMarkCompletedAndFailedFreezePhase(t *testing.T) {
	start := time.Unix(100, 0)

	completed := Open("s1", nil, start, 0, 0, "/evidence")
	completed.MarkCompleted()
	if completed.Phase != domain.Completed {
		t.Fatalf("Phase = %v, want COMPLETED", completed.Phase)
	}

	failed := Open("s2", nil, start, 0, 0, "/evidence")
	failed.MarkFailed()
	if failed.Phase != domain.Failed {
		t.Fatalf("Phase = %v, want FAILED", failed.Phase)
	}
}

func TestZeroPreRollMeansNoPreRollSegments(t *testing.T) {
	start := time.Unix(100, 0)
	s := Open("sess-1", nil, start, 0, 5*time.Second, "/evidence")
	if got := len(s.SegmentPaths()); got != 0 {
		t.Fatalf("SegmentPaths() len = %d, want 0 for zero pre-roll with no adopted segments", got)
	}
}
