// Package snapshot implements the framed dumpsys-output format written by
// the capture orchestrator and read back by the report phase:
//
//	### SNAPSHOT START host_ts=<iso> task=<name> status=<s> duration_ms=<n>[ detail=<sanitized>]
//	<body or '[no output]'>
//	### SNAPSHOT END
//	<blank>
package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
	"github.com/streamlens/jitterlens/internal/stats"
)

const (
	startMarker = "### SNAPSHOT START "
	endMarker   = "### SNAPSHOT END"
	noOutput    = "[no output]"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitize replaces runs of whitespace with '_' and truncates to 240
// characters, the transform applied to the optional `detail=` header
// field before it is written.
func Sanitize(s string) string {
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), "_")
	if len(s) > 240 {
		s = s[:240]
	}
	return s
}

// Write appends one framed snapshot to w.
func Write(w io.Writer, snap model.Snapshot) error {
	header := fmt.Sprintf("%shost_ts=%s task=%s status=%s duration_ms=%d",
		startMarker, stats.FormatISO(snap.HostTS), snap.Task, snap.Status, snap.DurationMs)
	if d := Sanitize(snap.Detail); d != "" {
		header += " detail=" + d
	}
	body := snap.Body
	if strings.TrimSpace(body) == "" {
		body = noOutput
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if _, err := io.WriteString(w, header+"\n"+body+endMarker+"\n\n"); err != nil {
		return fmt.Errorf("write snapshot frame: %w", err)
	}
	return nil
}

// Reader parses a sequence of framed snapshots from an io.Reader,
// streaming line by line rather than buffering the whole file.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r for sequential Next() calls.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{sc: sc}
}

// Next returns the next parsed snapshot, or io.EOF when the stream is
// exhausted. Unparseable header lines are skipped.
func (r *Reader) Next() (model.Snapshot, error) {
	for r.sc.Scan() {
		line := r.sc.Text()
		if !strings.HasPrefix(line, startMarker) {
			continue
		}
		header := strings.TrimPrefix(line, startMarker)
		fields := parseHeaderFields(header)

		var body []string
		for r.sc.Scan() {
			bodyLine := r.sc.Text()
			if bodyLine == endMarker {
				break
			}
			body = append(body, bodyLine)
		}
		bodyText := strings.Join(body, "\n")
		if bodyText == noOutput {
			bodyText = ""
		}

		hostTS, _ := stats.ParseISO(fields["host_ts"])
		durMs, _ := strconv.Atoi(fields["duration_ms"])

		snap := model.Snapshot{
			HostTS:     hostTS,
			Task:       fields["task"],
			Status:     model.SnapshotStatus(fields["status"]),
			DurationMs: durMs,
			Detail:     fields["detail"],
			Body:       bodyText,
		}
		return snap, nil
	}
	if err := r.sc.Err(); err != nil {
		return model.Snapshot{}, fmt.Errorf("scan snapshot stream: %w", err)
	}
	return model.Snapshot{}, io.EOF
}

// ReadAll drains r into a slice; convenience for tests and small files.
func ReadAll(r io.Reader) ([]model.Snapshot, error) {
	rd := NewReader(r)
	var out []model.Snapshot
	for {
		s, err := rd.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}

// parseHeaderFields splits "key=value key2=value2" into a map. Values are
// assumed not to contain spaces (true for host_ts since it's ISO-8601
// with no space, task/status/duration_ms, and the sanitized detail).
func parseHeaderFields(header string) map[string]string {
	out := map[string]string{}
	for _, tok := range strings.Fields(header) {
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			continue
		}
		out[tok[:eq]] = tok[eq+1:]
	}
	return out
}

// FormatDuration renders a duration in milliseconds, the unit the header
// field uses.
func FormatDuration(d time.Duration) int {
	return int(d.Milliseconds())
}
