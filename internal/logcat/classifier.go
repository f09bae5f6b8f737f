// Package logcat classifies threadtime-formatted logcat lines into the
// closed set of system event types the correlation engine consumes, and
// tracks drop-by-reason counts for the noise filter.
package logcat

import (
	"regexp"
	"strings"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
	"github.com/streamlens/jitterlens/internal/stats"
)

// threadtimeLine matches "MM-DD HH:mm:ss.SSS PID TID LEVEL TAG: message".
var threadtimeLine = regexp.MustCompile(
	`^(\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3})\s+(\d+)\s+(\d+)\s+([VDIWEF])\s+([^:]+):\s?(.*)$`)

// Line is one parsed threadtime record.
type Line struct {
	TS      time.Time
	PID     int
	TID     int
	Level   byte
	Tag     string
	Message string
	Raw     string
}

// ParseLine parses one raw threadtime line, resolving its year against the
// capture window via stats.ResolveThreadtime. ok is false for unparseable
// lines or ones that resolve outside the capture window.
func ParseLine(raw string, captureStart, captureEnd time.Time) (Line, bool) {
	m := threadtimeLine.FindStringSubmatch(raw)
	if m == nil {
		return Line{}, false
	}
	ts, ok := stats.ResolveThreadtime(m[1], captureStart, captureEnd)
	if !ok {
		return Line{}, false
	}
	return Line{
		TS:      ts,
		Level:   m[4][0],
		Tag:     strings.TrimSpace(m[5]),
		Message: m[6],
		Raw:     raw,
	}, true
}

// Classification is the result of classifying one line: zero or more
// event types plus, if the line was dropped by the noise filter, the
// reason.
type Classification struct {
	Events    []model.Event
	DropReason string // "" if not dropped
}

// NoiseReason is one of the three recognized noise classes.
const (
	NoiseDumpsysSelf   = "dumpsys_self_noise"
	NoiseBinderInit    = "binder_init"
	NoisePreconnectPoll = "preconnect_polling"
)

var (
	reRoamToken      = regexp.MustCompile(`(?i)\broam(ing)?\b`)
	reWifiContext    = regexp.MustCompile(`(?i)wifi|supplicant|wificond`)
	reNonWifiRoamNS  = regexp.MustCompile(`(?i)camera|bluetooth|audio`)
	reDisconnect     = regexp.MustCompile(`(?i)\bdisconnect(ed|ing)?\b`)
	reConnect        = regexp.MustCompile(`(?i)\bconnect(ed|ing)?\b`)
	reDHCP           = regexp.MustCompile(`(?i)\bdhcp\b`)
	reValidation     = regexp.MustCompile(`(?i)\bvalidat(ed|ion|ing)\b`)
	reCaptive        = regexp.MustCompile(`(?i)captive[_ ]?portal`)
	reNetworkContext = regexp.MustCompile(`(?i)wifi|network|connectivity|netd|ethernet`)
	reDoze           = regexp.MustCompile(`(?i)\bdoze\b`)
	reIdle           = regexp.MustCompile(`(?i)\bidle\b`)
	reDozeIdleContext = regexp.MustCompile(`(?i)deviceidle|powermanager`)
	reDeepLight      = regexp.MustCompile(`(?i)\b(light|deep)\b`)
	reBatterySaver   = regexp.MustCompile(`(?i)battery saver`)
	reOnToken        = regexp.MustCompile(`(?i)\b(on|enabled|true)\b`)
	reOffToken       = regexp.MustCompile(`(?i)\b(off|disabled|false)\b`)
	reWifiOn         = regexp.MustCompile(`(?i)wi-?fi (is |has been )?(enabled|turned on|on)\b`)
	reWifiOff        = regexp.MustCompile(`(?i)wi-?fi (is |has been )?(disabled|turned off|off)\b`)
	reIfaceUp        = regexp.MustCompile(`(?i)\b(wlan0|interface).*\bup\b`)
	reIfaceDown      = regexp.MustCompile(`(?i)\b(wlan0|interface).*\bdown\b`)
	reRSSI           = regexp.MustCompile(`(?i)\brssi\b`)
	reLinkSpeed      = regexp.MustCompile(`(?i)link speed`)
	reScan           = regexp.MustCompile(`(?i)\bscan (results?|started)\b`)
	reAlarmQueue     = regexp.MustCompile(`(?i)alarm.*queue`)
	reAlarmWakeup    = regexp.MustCompile(`(?i)wakeup`)
	reJobActive      = regexp.MustCompile(`(?i)job.*active`)
	reConnDefault    = regexp.MustCompile(`(?i)default network`)
	reConnTransport  = regexp.MustCompile(`(?i)transport changed`)

	reDumpsysSelf    = regexp.MustCompile(`(?i)^dumpsys `)
	reBinderInit     = regexp.MustCompile(`(?i)binder.*initializ`)
	rePreconnectPoll = regexp.MustCompile(`(?i)poll(ing)? for (pre)?connect`)
)

// Classify maps one parsed Line to zero or more EventTypes and/or a drop
// reason. A line with no event and no drop reason is simply uninteresting
// noise that wasn't one of the three tracked classes; callers typically
// discard it without counting.
func Classify(l Line) Classification {
	msg := l.Message

	if reDumpsysSelf.MatchString(msg) {
		return Classification{DropReason: NoiseDumpsysSelf}
	}
	if reBinderInit.MatchString(msg) {
		return Classification{DropReason: NoiseBinderInit}
	}
	if rePreconnectPoll.MatchString(msg) {
		return Classification{DropReason: NoisePreconnectPoll}
	}

	var events []model.EventType

	isWifiCtx := (reWifiContext.MatchString(msg) || reWifiContext.MatchString(l.Tag)) && !reNonWifiRoamNS.MatchString(l.Tag)
	if reRoamToken.MatchString(msg) && isWifiCtx {
		events = append(events, model.EventRoam)
	}

	netCtx := reNetworkContext.MatchString(msg) || reNetworkContext.MatchString(l.Tag)
	if netCtx {
		if reDisconnect.MatchString(msg) {
			events = append(events, model.EventDisconnect)
		}
		if reConnect.MatchString(msg) && !reDisconnect.MatchString(msg) {
			events = append(events, model.EventConnect)
		}
		if reDHCP.MatchString(msg) {
			events = append(events, model.EventDHCP)
		}
		if reValidation.MatchString(msg) {
			events = append(events, model.EventValidation)
		}
		if reCaptive.MatchString(msg) {
			events = append(events, model.EventCaptivePortal)
		}
	}

	dozeIdleCtx := reDozeIdleContext.MatchString(msg) || reDozeIdleContext.MatchString(l.Tag)
	if dozeIdleCtx {
		if reDoze.MatchString(msg) {
			if reOnToken.MatchString(msg) {
				events = append(events, model.EventDozeEnter)
			} else if reOffToken.MatchString(msg) {
				events = append(events, model.EventDozeExit)
			}
		}
		if reIdle.MatchString(msg) && reDeepLight.MatchString(msg) {
			if reOnToken.MatchString(msg) {
				events = append(events, model.EventIdleEnter)
			} else if reOffToken.MatchString(msg) {
				events = append(events, model.EventIdleExit)
			}
		}
	}

	if reBatterySaver.MatchString(msg) {
		if reOnToken.MatchString(msg) {
			events = append(events, model.EventBatterySaverOn)
		} else if reOffToken.MatchString(msg) {
			events = append(events, model.EventBatterySaverOff)
		}
	}

	if isWifiCtx && reWifiOn.MatchString(msg) {
		events = append(events, model.EventWifiOn)
	}
	if isWifiCtx && reWifiOff.MatchString(msg) {
		events = append(events, model.EventWifiOff)
	}
	if reIfaceUp.MatchString(msg) {
		events = append(events, model.EventWifiIfaceUp)
	}
	if reIfaceDown.MatchString(msg) {
		events = append(events, model.EventWifiIfaceDown)
	}
	if reRSSI.MatchString(msg) {
		events = append(events, model.EventRSSIChange)
	}
	if reLinkSpeed.MatchString(msg) {
		events = append(events, model.EventLinkSpeedChange)
	}
	if reScan.MatchString(msg) {
		events = append(events, model.EventScan)
	}
	if reAlarmQueue.MatchString(msg) {
		events = append(events, model.EventAlarmQueueJump)
	}
	if reAlarmWakeup.MatchString(msg) {
		events = append(events, model.EventAlarmWakeupSoon)
	}
	if reJobActive.MatchString(msg) {
		events = append(events, model.EventJobActiveSpike)
	}
	if reConnDefault.MatchString(msg) {
		events = append(events, model.EventConnDefaultSwitch)
	}
	if reConnTransport.MatchString(msg) {
		events = append(events, model.EventConnDefaultTransportChange)
	}

	if len(events) == 0 {
		return Classification{}
	}
	out := make([]model.Event, 0, len(events))
	for _, t := range events {
		out = append(out, model.Event{Type: t, TS: l.TS, Source: model.SourceLogcat, RawLine: l.Raw})
	}
	return Classification{Events: out}
}
