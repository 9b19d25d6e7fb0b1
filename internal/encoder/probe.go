package encoder

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Probe asks ffprobe for the container duration of path.
func (s *Supervisor) Probe(ctx context.Context, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, s.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, &ProcessError{Op: "probe", Err: err}
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || secs < 0 {
		return 0, &ProcessError{Op: "probe", Err: fmt.Errorf("unexpected ffprobe output %q", strings.TrimSpace(string(out)))}
	}
	return time.Duration(secs * float64(time.Second)), nil
}
