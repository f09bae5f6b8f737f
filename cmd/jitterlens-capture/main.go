// Command jitterlens-capture drives logcat, dumpsys, and ping child
// processes against a USB-attached Android device for a fixed duration,
// writing the raw inputs the report phase later analyzes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/streamlens/jitterlens/internal/capture"
	"github.com/streamlens/jitterlens/internal/config"
)

var ipv4Pattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

func main() {
	var (
		minutes      = flag.Int("minutes", 0, "capture duration in minutes (overrides config)")
		outDir       = flag.String("out", "", "output directory root (overrides config, default logs)")
		cfgPath      = flag.String("config", "capture.yaml", "path to the capture config YAML")
		deviceSerial = flag.String("serial", "", "adb device serial (overrides config)")
		hostIP       = flag.String("ping-host", "", "device-side ping target IPv4 (overrides config)")
		pingInterval = flag.Float64("ping-interval-sec", 0, "device-side ping interval seconds (overrides config)")
		hostSideIP   = flag.String("host-side-ping-host", "", "host-side ping target IPv4 (overrides config)")
		sshHost      = flag.String("ssh-host", "", "SSH host for host-side ping (overrides config)")
		sshUser      = flag.String("ssh-user", "", "SSH user for host-side ping")
		sshKeyFile   = flag.String("ssh-key-file", "", "SSH private key file for host-side ping")
		tzOffset     = flag.String("ping-log-tz-offset", "", "TZ offset stamped in ping log lines, e.g. +02:00")
		metricsAddr  = flag.String("metrics-addr", "", "Prometheus metrics HTTP listen address (empty disables)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[jitterlens-capture] config error: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *minutes, *outDir, *deviceSerial, *hostIP, *pingInterval, *hostSideIP, *sshHost, *sshUser, *sshKeyFile, *tzOffset, *metricsAddr)

	if err := validateStartup(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "[jitterlens-capture] startup error: %v\n", err)
		os.Exit(1)
	}

	runDir := filepath.Join(cfg.OutDir, time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "[jitterlens-capture] mkdir %s: %v\n", runDir, err)
		os.Exit(1)
	}
	log.Printf("[jitterlens-capture] capturing to %s for %d minutes", runDir, cfg.Minutes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Minutes)*time.Minute)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("[jitterlens-capture] signal %s received, stopping", s)
		cancel()
	}()

	metrics := capture.NewMetrics()
	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			log.Printf("[jitterlens-capture] metrics server error: %v", err)
		}
	}()

	orch := capture.New(cfg, runDir, metrics)
	stopReason, runErr := orch.Run(ctx)
	if runErr != nil {
		log.Printf("[jitterlens-capture] run error: %v", runErr)
	}

	manifest := orch.WriteManifest(stopReason, 0)
	if err := capture.WriteManifestFile(runDir, manifest); err != nil {
		log.Printf("[jitterlens-capture] write manifest: %v", err)
	}

	if runErr != nil {
		os.Exit(1)
	}
}

func applyOverrides(cfg *config.Config, minutes int, outDir, serial, hostIP string, pingInterval float64, hostSideIP, sshHost, sshUser, sshKeyFile, tzOffset, metricsAddr string) {
	if minutes > 0 {
		cfg.Minutes = minutes
	}
	if outDir != "" {
		cfg.OutDir = outDir
	}
	if serial != "" {
		cfg.DeviceSerial = serial
	}
	if hostIP != "" {
		cfg.Ping.Enabled = true
		cfg.Ping.HostIP = hostIP
	}
	if pingInterval > 0 {
		cfg.Ping.IntervalSec = pingInterval
	}
	if hostSideIP != "" {
		cfg.HostSidePing.Enabled = true
		cfg.HostSidePing.HostIP = hostSideIP
	}
	if sshHost != "" {
		cfg.HostSidePing.SSHHost = sshHost
	}
	if sshUser != "" {
		cfg.HostSidePing.SSHUser = sshUser
	}
	if sshKeyFile != "" {
		cfg.HostSidePing.SSHKeyFile = sshKeyFile
	}
	if tzOffset != "" {
		cfg.PingLogTzOffset = tzOffset
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
}

// validateStartup performs the startup-fatal checks: adb present, at
// least one authorized/online device, valid IPv4/interval/TZ-offset
// values, and an SSH key file that actually exists when host-side ping
// is configured to use one.
func validateStartup(cfg *config.Config) error {
	if _, err := exec.LookPath("adb"); err != nil {
		return fmt.Errorf("adb not found in PATH: %w", err)
	}
	out, err := exec.Command("adb", "devices").Output()
	if err != nil {
		return fmt.Errorf("adb devices failed: %w", err)
	}
	if !hasOnlineDevice(string(out)) {
		return fmt.Errorf("no authorized/online adb device found")
	}
	if cfg.Ping.Enabled && !ipv4Pattern.MatchString(cfg.Ping.HostIP) {
		return fmt.Errorf("invalid device ping host IP %q", cfg.Ping.HostIP)
	}
	if cfg.Ping.Enabled && cfg.Ping.IntervalSec <= 0 {
		return fmt.Errorf("invalid device ping interval %v", cfg.Ping.IntervalSec)
	}
	if cfg.HostSidePing.Enabled {
		if !ipv4Pattern.MatchString(cfg.HostSidePing.HostIP) {
			return fmt.Errorf("invalid host-side ping host IP %q", cfg.HostSidePing.HostIP)
		}
		if cfg.HostSidePing.IntervalSec <= 0 {
			return fmt.Errorf("invalid host-side ping interval %v", cfg.HostSidePing.IntervalSec)
		}
		if cfg.HostSidePing.SSHKeyFile != "" {
			if _, err := os.Stat(cfg.HostSidePing.SSHKeyFile); err != nil {
				return fmt.Errorf("SSH key file %q not found: %w", cfg.HostSidePing.SSHKeyFile, err)
			}
		}
	}
	if cfg.PingLogTzOffset != "" {
		if err := config.ValidateTZOffset(cfg.PingLogTzOffset); err != nil {
			return err
		}
	}
	return nil
}

func hasOnlineDevice(adbDevicesOutput string) bool {
	for _, line := range strings.Split(adbDevicesOutput, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		if strings.HasSuffix(line, "\tdevice") || strings.Contains(line, "\tdevice") {
			return true
		}
	}
	return false
}
