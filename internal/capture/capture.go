// Package capture drives the child processes (logcat, dumpsys pollers,
// device-side and host-side ping) that populate one capture output
// directory, the way the teacher's pipeline package fans receivers,
// processors, and exporters out over goroutines under one errgroup.
package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamlens/jitterlens/internal/config"
	"github.com/streamlens/jitterlens/internal/model"
	"github.com/streamlens/jitterlens/internal/snapshot"
	"github.com/streamlens/jitterlens/internal/stats"
)

// dumpsysTask is one of the six periodic dumpsys pollers.
type dumpsysTask struct {
	name        string
	service     string // argument to `adb shell dumpsys <service>`
	interval    time.Duration
	startOffset time.Duration
	lineCap     int
}

// Tasks is the fixed six-service dumpsys polling schedule: intervals
// 2s/10s/10s/10s/30s/30s, start offsets staggered 400ms apart.
var Tasks = []dumpsysTask{
	{name: "wifi", service: "wifi", interval: 2 * time.Second, startOffset: 0, lineCap: 4000},
	{name: "conn", service: "connectivity", interval: 10 * time.Second, startOffset: 400 * time.Millisecond, lineCap: 4000},
	{name: "deviceidle", service: "deviceidle", interval: 10 * time.Second, startOffset: 800 * time.Millisecond, lineCap: 2000},
	{name: "power", service: "power", interval: 10 * time.Second, startOffset: 1200 * time.Millisecond, lineCap: 2000},
	{name: "alarm", service: "alarm", interval: 30 * time.Second, startOffset: 1600 * time.Millisecond, lineCap: 6000},
	{name: "jobs", service: "jobscheduler", interval: 30 * time.Second, startOffset: 2000 * time.Millisecond, lineCap: 6000},
}

const dumpsysTimeout = 20 * time.Second
const shutdownBound = 25 * time.Second

// TaskCounters accumulates one dumpsys task's run outcomes for the
// capture manifest.
type TaskCounters struct {
	Runs           int `json:"runs"`
	OK             int `json:"ok"`
	Skipped        int `json:"skipped"`
	Timeout        int `json:"timeout"`
	Error          int `json:"error"`
	LastDurationMs int `json:"lastDurationMs"`
}

// Manifest is capture_meta.json.
type Manifest struct {
	Version         string                    `json:"version"`
	StartedAtIso    string                    `json:"startedAtIso"`
	StoppedAtIso    string                    `json:"stoppedAtIso"`
	OutDir          string                    `json:"outDir"`
	Minutes         int                       `json:"minutes"`
	DeviceSerial    string                    `json:"deviceSerial"`
	Ping            config.PingCfg            `json:"ping"`
	HostSidePing    config.PingCfg            `json:"hostSidePing"`
	PingLogTzOffset string                    `json:"pingLogTzOffset"`
	StopReason      string                    `json:"stopReason"`
	ParseExitCode   int                       `json:"parseExitCode"`
	TaskCounters    map[string]*TaskCounters  `json:"taskCounters"`
}

// Orchestrator owns the child processes and output files for one capture
// run.
type Orchestrator struct {
	cfg    *config.Config
	outDir string
	start  time.Time

	mu       sync.Mutex
	counters map[string]*TaskCounters
	queueBusy bool

	metrics *Metrics
}

// New builds an Orchestrator rooted at outDir (already created by the
// caller with a `<YYYYMMDD_HHmmss>` name).
func New(cfg *config.Config, outDir string, m *Metrics) *Orchestrator {
	counters := make(map[string]*TaskCounters, len(Tasks))
	for _, t := range Tasks {
		counters[t.name] = &TaskCounters{}
	}
	return &Orchestrator{cfg: cfg, outDir: outDir, counters: counters, metrics: m}
}

// Run drives every child process until ctx is canceled (normally by a
// minutes-based timer owned by the caller) or a startup error occurs.
// It returns the stop reason recorded in the manifest.
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	o.start = time.Now()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.runLogcat(gctx) })

	for _, t := range Tasks {
		t := t
		g.Go(func() error { return o.runDumpsysLoop(gctx, t) })
	}

	if o.cfg.Ping.Enabled {
		g.Go(func() error { return o.runDevicePing(gctx) })
	}
	if o.cfg.HostSidePing.Enabled {
		g.Go(func() error { return o.runHostSidePing(gctx) })
	}

	err := g.Wait()
	reason := "duration_elapsed"
	if ctx.Err() != nil && err == nil {
		reason = "signal"
	}
	if err != nil {
		reason = "error"
	}
	return reason, err
}

// runDumpsysLoop ticks one dumpsys task at its configured interval,
// staggered by startOffset, serializing against the other five tasks
// through the orchestrator's single-concurrency queue.
func (o *Orchestrator) runDumpsysLoop(ctx context.Context, t dumpsysTask) error {
	w, err := o.openAppend(fmt.Sprintf("dumpsys_%s.log", t.name))
	if err != nil {
		return fmt.Errorf("open dumpsys log %s: %w", t.name, err)
	}
	defer w.Close()

	timer := time.NewTimer(t.startOffset)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			o.pollDumpsysOnce(ctx, t, w)
			timer.Reset(t.interval)
		}
	}
}

func (o *Orchestrator) pollDumpsysOnce(ctx context.Context, t dumpsysTask, w io.Writer) {
	o.mu.Lock()
	if o.queueBusy {
		o.mu.Unlock()
		o.recordOutcome(t.name, model.SnapshotSkipped, 0)
		snapshot.Write(w, model.Snapshot{HostTS: time.Now(), Task: t.name, Status: model.SnapshotSkipped, Detail: "busy"})
		if o.metrics != nil {
			o.metrics.TaskSkipped.WithLabelValues(t.name).Inc()
		}
		return
	}
	o.queueBusy = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.queueBusy = false
		o.mu.Unlock()
	}()

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, dumpsysTimeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, "adb", dumpsysArgs(o.cfg.DeviceSerial, t.service)...)
	out, runErr := cmd.Output()
	dur := time.Since(start)

	status := model.SnapshotOK
	detail := ""
	if tctx.Err() == context.DeadlineExceeded {
		status = model.SnapshotTimeout
	} else if runErr != nil {
		status = model.SnapshotError
		detail = runErr.Error()
	}

	o.recordOutcome(t.name, status, int(dur.Milliseconds()))
	if o.metrics != nil {
		o.metrics.taskObserve(t.name, status, dur)
	}

	body := truncateLines(string(out), t.lineCap)
	snapshot.Write(w, model.Snapshot{
		HostTS: time.Now(), Task: t.name, Status: status,
		DurationMs: int(dur.Milliseconds()), Detail: detail, Body: body,
	})
}

func dumpsysArgs(serial, service string) []string {
	args := []string{}
	if serial != "" {
		args = append(args, "-s", serial)
	}
	return append(args, "shell", "dumpsys", service)
}

func truncateLines(s string, cap int) string {
	if cap <= 0 {
		return s
	}
	lines := splitLinesKeep(s)
	if len(lines) <= cap {
		return s
	}
	return joinLines(lines[:cap])
}

func splitLinesKeep(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func (o *Orchestrator) recordOutcome(task string, status model.SnapshotStatus, durMs int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.counters[task]
	c.Runs++
	c.LastDurationMs = durMs
	switch status {
	case model.SnapshotOK:
		c.OK++
	case model.SnapshotSkipped:
		c.Skipped++
	case model.SnapshotTimeout:
		c.Timeout++
	case model.SnapshotError:
		c.Error++
	}
}

// runLogcat pipes `adb logcat -v threadtime` stdout/stderr to
// logcat_all.log/logcat_stderr.log, applying the escalating shutdown
// sequence on ctx cancellation.
func (o *Orchestrator) runLogcat(ctx context.Context) error {
	outW, err := o.openAppend("logcat_all.log")
	if err != nil {
		return fmt.Errorf("open logcat_all.log: %w", err)
	}
	defer outW.Close()
	errW, err := o.openAppend("logcat_stderr.log")
	if err != nil {
		return fmt.Errorf("open logcat_stderr.log: %w", err)
	}
	defer errW.Close()

	args := []string{}
	if o.cfg.DeviceSerial != "" {
		args = append(args, "-s", o.cfg.DeviceSerial)
	}
	args = append(args, "logcat", "-v", "threadtime")
	cmd := exec.Command("adb", args...)
	cmd.Stdout = outW
	cmd.Stderr = errW

	return runWithEscalatingShutdown(ctx, cmd)
}

// runWithEscalatingShutdown starts cmd and, on ctx cancellation, signals
// interrupt, waits, then escalates to Process.Kill if the child has not
// exited within shutdownBound.
func runWithEscalatingShutdown(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-ctx.Done():
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-waitErr:
		return nil
	case <-time.After(shutdownBound):
		log.Printf("[capture] %s did not exit within %s, killing", cmd.Path, shutdownBound)
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitErr
		return nil
	}
}

// runDevicePing runs `adb shell ping -i <interval> <ip>` and rewrites
// each line with the uniform log prefix before appending to
// ping_host.log.
func (o *Orchestrator) runDevicePing(ctx context.Context) error {
	w, err := o.openAppend("ping_host.log")
	if err != nil {
		return fmt.Errorf("open ping_host.log: %w", err)
	}
	defer w.Close()

	args := []string{}
	if o.cfg.DeviceSerial != "" {
		args = append(args, "-s", o.cfg.DeviceSerial)
	}
	args = append(args, "shell", "ping", "-i", fmt.Sprintf("%.3f", o.cfg.Ping.IntervalSec), o.cfg.Ping.HostIP)
	cmd := exec.Command("adb", args...)
	return o.pipeLinesWithPrefix(ctx, cmd, w, "device_side_ping")
}

// runHostSidePing runs the host-side ping over SSH and rewrites each
// line with the uniform log prefix before appending to
// ping_host_side.log.
func (o *Orchestrator) runHostSidePing(ctx context.Context) error {
	w, err := o.openAppend("ping_host_side.log")
	if err != nil {
		return fmt.Errorf("open ping_host_side.log: %w", err)
	}
	defer w.Close()

	p := o.cfg.HostSidePing
	args := []string{p.SSHHost, "ping", "-i", fmt.Sprintf("%.3f", p.IntervalSec), p.HostIP}
	if p.SSHKeyFile != "" {
		args = append([]string{"-i", p.SSHKeyFile}, args...)
	}
	if p.SSHUser != "" {
		args[len(args)-3] = p.SSHUser + "@" + args[len(args)-3]
	}
	cmd := exec.Command("ssh", args...)
	return o.pipeLinesWithPrefix(ctx, cmd, w, "host_side_ping")
}

func (o *Orchestrator) pipeLinesWithPrefix(ctx context.Context, cmd *exec.Cmd, w io.Writer, source string) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			now := time.Now()
			line := fmt.Sprintf("[ts_local=%s][epoch_ms=%d][source=%s] %s\n",
				stats.FormatISO(now), now.UnixMilli(), source, sc.Text())
			io.WriteString(w, line)
		}
	}()

	waitErr := make(chan error, 1)
	go func() { <-done; waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Signal(os.Interrupt)
		}
		select {
		case <-waitErr:
		case <-time.After(shutdownBound):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-waitErr
		}
		return nil
	}
}

func (o *Orchestrator) openAppend(name string) (*os.File, error) {
	return os.OpenFile(filepath.Join(o.outDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// WriteManifest snapshots the orchestrator's counters into capture_meta.json.
func (o *Orchestrator) WriteManifest(stopReason string, parseExitCode int) Manifest {
	o.mu.Lock()
	defer o.mu.Unlock()
	counters := make(map[string]*TaskCounters, len(o.counters))
	for k, v := range o.counters {
		cp := *v
		counters[k] = &cp
	}
	return Manifest{
		Version:         "1",
		StartedAtIso:    stats.FormatISO(o.start),
		StoppedAtIso:    stats.FormatISO(time.Now()),
		OutDir:          o.outDir,
		Minutes:         o.cfg.Minutes,
		DeviceSerial:    o.cfg.DeviceSerial,
		Ping:            o.cfg.Ping,
		HostSidePing:    o.cfg.HostSidePing,
		PingLogTzOffset: o.cfg.PingLogTzOffset,
		StopReason:      stopReason,
		ParseExitCode:   parseExitCode,
		TaskCounters:    counters,
	}
}

// WriteManifestFile marshals m as indented JSON to capture_meta.json.
func WriteManifestFile(outDir string, m Manifest) error {
	f, err := os.Create(filepath.Join(outDir, "capture_meta.json"))
	if err != nil {
		return fmt.Errorf("create capture_meta.json: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
