package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// dedupeExisting validates each segment path exists and is non-empty,
// preserving order and dropping duplicate paths wherever they occur.
// Missing files are skipped with a WARN log, per spec.md §7's "missing
// segment at concat" policy.
func dedupeExisting(paths []string, logger *slog.Logger) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}

		info, err := os.Stat(p)
		if err != nil {
			logger.Warn("segment missing at concat time, skipping", "path", p, "error", err)
			continue
		}
		if info.Size() == 0 {
			logger.Warn("segment is empty at concat time, skipping", "path", p)
			continue
		}
		out = append(out, p)
	}
	return out
}

// writeManifest writes a concat-demuxer manifest: one `file
// '<absolute-path>'` line per segment.
func writeManifest(manifestPath string, paths []string) error {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", p)
	}
	return os.WriteFile(manifestPath, []byte(b.String()), 0o644)
}
