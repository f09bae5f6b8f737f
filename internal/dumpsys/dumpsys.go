// Package dumpsys turns consecutive OK snapshot bodies from one service
// into typed transition events by diffing small per-service state
// structs pulled out of the raw text.
package dumpsys

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

// wifiState is the subset of `dumpsys wifi` state the detector tracks
// across snapshots.
type wifiState struct {
	wifiOn  bool
	ifaceUp bool
	roamTS  string
	valid   bool
}

var (
	reWifiEnabled   = regexp.MustCompile(`(?i)Wi-?Fi is (enabled|disabled)`)
	reWifiStateNum  = regexp.MustCompile(`(?i)WifiState:\s*(\d+)`)
	reWifiMode      = regexp.MustCompile(`(?i)mWifiState\s*=\s*(\w+)`)
	reIfaceUp       = regexp.MustCompile(`(?i)wlan0.*\bUP\b`)
	reRoamResult    = regexp.MustCompile(`CMD_TRIGGER_ROAMING_RESULT[^\n]*`)
)

func parseWifiState(body string) wifiState {
	s := wifiState{valid: true}
	if m := reWifiEnabled.FindStringSubmatch(body); m != nil {
		s.wifiOn = strings.EqualFold(m[1], "enabled")
	} else if m := reWifiStateNum.FindStringSubmatch(body); m != nil {
		n, _ := strconv.Atoi(m[1])
		s.wifiOn = n != 0
	} else if m := reWifiMode.FindStringSubmatch(body); m != nil {
		s.wifiOn = strings.EqualFold(m[1], "ENABLED") || strings.EqualFold(m[1], "ON")
	} else {
		s.valid = false
	}
	s.ifaceUp = reIfaceUp.MatchString(body)
	if m := reRoamResult.FindString(body); m != "" {
		s.roamTS = m
	}
	return s
}

// Detector accumulates per-service state and emits transitions on each
// successive OK snapshot.
type Detector struct {
	wifi  wifiState
	alarm alarmState
	jobs  jobsState
	power map[string]powerState
}

// New returns an empty Detector with no prior state.
func New() *Detector {
	return &Detector{power: map[string]powerState{}}
}

// Feed processes one snapshot (caller should only call this for
// status==OK) and returns the transitions it implies relative to the
// previous snapshot for the same service.
func (d *Detector) Feed(snap model.Snapshot) []model.Event {
	switch snap.Task {
	case "wifi":
		return d.feedWifi(snap)
	case "alarm":
		return d.feedAlarm(snap)
	case "jobs":
		return d.feedJobs(snap)
	case "deviceidle", "power":
		return d.feedPower(snap)
	default:
		return nil
	}
}

func (d *Detector) feedWifi(snap model.Snapshot) []model.Event {
	next := parseWifiState(snap.Body)
	prev := d.wifi
	var out []model.Event
	if prev.valid && next.valid {
		if next.wifiOn && !prev.wifiOn {
			out = append(out, ev(model.EventWifiOn, snap))
		} else if !next.wifiOn && prev.wifiOn {
			out = append(out, ev(model.EventWifiOff, snap))
		}
		if next.ifaceUp && !prev.ifaceUp {
			out = append(out, ev(model.EventWifiIfaceUp, snap))
		} else if !next.ifaceUp && prev.ifaceUp {
			out = append(out, ev(model.EventWifiIfaceDown, snap))
		}
		if next.roamTS != "" && next.roamTS != prev.roamTS {
			out = append(out, ev(model.EventRoam, snap))
		}
	}
	d.wifi = next
	return out
}

type alarmState struct {
	pending     int
	wakeupCount int
	nextWakeup  time.Duration
	valid       bool
}

var (
	rePending      = regexp.MustCompile(`(?i)(\d+)\s+alarms? pending`)
	reWakeupEntry  = regexp.MustCompile(`(?i)\b(RTC_WAKEUP|ELAPSED_WAKEUP)\b`)
	reNextWakeup   = regexp.MustCompile(`(?i)Next wakeup alarm.*?in\s+([\d.]+)([a-z]*)`)
)

func parseAlarmState(body string) alarmState {
	s := alarmState{valid: true}
	if m := rePending.FindStringSubmatch(body); m != nil {
		s.pending, _ = strconv.Atoi(m[1])
	} else {
		s.valid = false
	}
	s.wakeupCount = len(reWakeupEntry.FindAllString(body, -1))
	if m := reNextWakeup.FindStringSubmatch(body); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		unit := strings.ToLower(m[2])
		switch {
		case strings.HasPrefix(unit, "ms"):
			s.nextWakeup = time.Duration(v * float64(time.Millisecond))
		case strings.HasPrefix(unit, "m"):
			s.nextWakeup = time.Duration(v * float64(time.Minute))
		default:
			s.nextWakeup = time.Duration(v * float64(time.Second))
		}
	} else {
		s.nextWakeup = -1
	}
	return s
}

func (d *Detector) feedAlarm(snap model.Snapshot) []model.Event {
	next := parseAlarmState(snap.Body)
	prev := d.alarm
	var out []model.Event
	if prev.valid && next.valid {
		if next.pending-prev.pending >= 8 {
			out = append(out, ev(model.EventAlarmQueueJump, snap))
		}
		if next.wakeupCount-prev.wakeupCount >= 3 {
			out = append(out, ev(model.EventAlarmWakeupBurst, snap))
		}
		crossedBoundary := prev.nextWakeup >= 0 && next.nextWakeup >= 0 &&
			prev.nextWakeup > 30*time.Second && next.nextWakeup <= 30*time.Second
		if (next.nextWakeup >= 0 && next.nextWakeup <= 5*time.Second) || crossedBoundary {
			out = append(out, ev(model.EventAlarmWakeupSoon, snap))
		}
	}
	d.alarm = next
	return out
}

type jobsState struct {
	activeCount int
	valid       bool
}

var reJobEnforced = regexp.MustCompile(`(?i)\b(top-started|fgs)\b.*\benforced\s*=\s*true\b`)

func parseJobsState(body string) jobsState {
	return jobsState{
		activeCount: len(reJobEnforced.FindAllString(body, -1)),
		valid:       true,
	}
}

func (d *Detector) feedJobs(snap model.Snapshot) []model.Event {
	next := parseJobsState(snap.Body)
	prev := d.jobs
	var out []model.Event
	if prev.valid && next.activeCount > prev.activeCount {
		out = append(out, ev(model.EventJobActiveSpike, snap))
	}
	d.jobs = next
	return out
}

type powerState struct {
	dozeOn         bool
	idleOn         bool
	batterySaverOn bool
	valid          bool
}

var (
	reMDeepIdle    = regexp.MustCompile(`(?i)mDeepIdleMode\s*=\s*(true|false)`)
	reMLightIdle   = regexp.MustCompile(`(?i)mLightIdleMode\s*=\s*(true|false)`)
	reMForceIdle   = regexp.MustCompile(`(?i)mForceIdle\s*=\s*(true|false)`)
	reStateIdle    = regexp.MustCompile(`(?i)\bstate\s*=\s*(IDLE|IDLE_MAINTENANCE)\b`)
	reStateActive  = regexp.MustCompile(`(?i)\bstate\s*=\s*ACTIVE\b`)
	reBatterySaver = regexp.MustCompile(`(?i)(Battery saver|mLowPowerModeEnabled)\s*(is|=)?\s*(enabled|true)`)
	reBatteryOff   = regexp.MustCompile(`(?i)(Battery saver|mLowPowerModeEnabled)\s*(is|=)?\s*(disabled|false)`)
)

func parsePowerState(body string) powerState {
	s := powerState{valid: true}
	switch {
	case reMDeepIdle.MatchString(body):
		m := reMDeepIdle.FindStringSubmatch(body)
		s.dozeOn = strings.EqualFold(m[1], "true")
	case reStateIdle.MatchString(body):
		s.dozeOn = true
	case reStateActive.MatchString(body):
		s.dozeOn = false
	default:
		s.valid = false
	}
	if m := reMLightIdle.FindStringSubmatch(body); m != nil {
		s.idleOn = strings.EqualFold(m[1], "true")
	} else if m := reMForceIdle.FindStringSubmatch(body); m != nil {
		s.idleOn = strings.EqualFold(m[1], "true")
	}
	if reBatterySaver.MatchString(body) {
		s.batterySaverOn = true
	} else if reBatteryOff.MatchString(body) {
		s.batterySaverOn = false
	}
	return s
}

func (d *Detector) feedPower(snap model.Snapshot) []model.Event {
	next := parsePowerState(snap.Body)
	prev := d.power[snap.Task]
	var out []model.Event
	if prev.valid && next.valid {
		if next.dozeOn && !prev.dozeOn {
			out = append(out, ev(model.EventDozeEnter, snap))
		} else if !next.dozeOn && prev.dozeOn {
			out = append(out, ev(model.EventDozeExit, snap))
		}
		if next.idleOn && !prev.idleOn {
			out = append(out, ev(model.EventIdleEnter, snap))
		} else if !next.idleOn && prev.idleOn {
			out = append(out, ev(model.EventIdleExit, snap))
		}
		if next.batterySaverOn && !prev.batterySaverOn {
			out = append(out, ev(model.EventBatterySaverOn, snap))
		} else if !next.batterySaverOn && prev.batterySaverOn {
			out = append(out, ev(model.EventBatterySaverOff, snap))
		}
	}
	d.power[snap.Task] = next
	return out
}

func ev(t model.EventType, snap model.Snapshot) model.Event {
	return model.Event{Type: t, TS: snap.HostTS, Source: serviceSource(snap.Task)}
}

func serviceSource(task string) model.ServiceOrLog {
	switch task {
	case "wifi":
		return model.SourceDumpsysWifi
	case "conn":
		return model.SourceDumpsysConn
	case "deviceidle":
		return model.SourceDumpsysIdle
	case "power":
		return model.SourceDumpsysPower
	case "alarm":
		return model.SourceDumpsysAlarm
	case "jobs":
		return model.SourceDumpsysJobs
	default:
		return model.ServiceOrLog(task)
	}
}
