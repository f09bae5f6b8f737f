// Package model holds the shared value types passed between capture and
// report components: events, snapshots, ping samples, derived statistics,
// and cause-ranking results. Nothing in this package performs I/O.
package model

import "time"

// EventType is the closed set of system transitions the correlation engine
// reasons about.
type EventType string

const (
	EventScan                      EventType = "SCAN"
	EventRoam                      EventType = "ROAM"
	EventDisconnect                 EventType = "DISCONNECT"
	EventConnect                    EventType = "CONNECT"
	EventDHCP                       EventType = "DHCP"
	EventRSSIChange                 EventType = "RSSI_CHANGE"
	EventLinkSpeedChange             EventType = "LINK_SPEED_CHANGE"
	EventValidation                  EventType = "VALIDATION"
	EventCaptivePortal               EventType = "CAPTIVE_PORTAL"
	EventDozeEnter                   EventType = "DOZE_ENTER"
	EventDozeExit                    EventType = "DOZE_EXIT"
	EventIdleEnter                   EventType = "IDLE_ENTER"
	EventIdleExit                    EventType = "IDLE_EXIT"
	EventBatterySaverOn              EventType = "BATTERY_SAVER_ON"
	EventBatterySaverOff             EventType = "BATTERY_SAVER_OFF"
	EventWifiOn                      EventType = "WIFI_ON"
	EventWifiOff                     EventType = "WIFI_OFF"
	EventWifiIfaceUp                 EventType = "WIFI_IFACE_UP"
	EventWifiIfaceDown               EventType = "WIFI_IFACE_DOWN"
	EventAlarmQueueJump              EventType = "ALARM_QUEUE_JUMP"
	EventAlarmWakeupBurst            EventType = "ALARM_WAKEUP_BURST"
	EventAlarmWakeupSoon             EventType = "ALARM_WAKEUP_SOON"
	EventJobActiveSpike              EventType = "JOB_ACTIVE_SPIKE"
	EventWakelockSpike               EventType = "WAKELOCK_SPIKE"
	EventConnDefaultSwitch           EventType = "CONN_DEFAULT_SWITCH"
	EventConnDefaultTransportChange  EventType = "CONN_DEFAULT_TRANSPORT_CHANGE"
)

// DedupWindow returns the near-duplicate suppression tolerance for an event
// type: 3000ms for ROAM, 15-25s for ALARM/JOB families, 1500ms for
// WIFI/power transitions, 0 otherwise.
func (t EventType) DedupWindow() time.Duration {
	switch t {
	case EventRoam:
		return 3000 * time.Millisecond
	case EventAlarmQueueJump, EventAlarmWakeupBurst:
		return 25000 * time.Millisecond
	case EventAlarmWakeupSoon, EventJobActiveSpike:
		return 15000 * time.Millisecond
	case EventWifiOn, EventWifiOff, EventWifiIfaceUp, EventWifiIfaceDown,
		EventDozeEnter, EventDozeExit, EventIdleEnter, EventIdleExit,
		EventBatterySaverOn, EventBatterySaverOff:
		return 1500 * time.Millisecond
	default:
		return 0
	}
}

// ServiceOrLog identifies where an Event originated.
type ServiceOrLog string

const (
	SourceLogcat       ServiceOrLog = "logcat"
	SourceDumpsysWifi  ServiceOrLog = "dumpsys:wifi"
	SourceDumpsysConn  ServiceOrLog = "dumpsys:connectivity"
	SourceDumpsysIdle  ServiceOrLog = "dumpsys:deviceidle"
	SourceDumpsysPower ServiceOrLog = "dumpsys:power"
	SourceDumpsysAlarm ServiceOrLog = "dumpsys:alarm"
	SourceDumpsysJobs  ServiceOrLog = "dumpsys:jobscheduler"
)

// Event is a single, timestamped occurrence of an EventType.
type Event struct {
	Type    EventType
	TS      time.Time
	Source  ServiceOrLog
	RawLine string
}

// SnapshotStatus is the outcome of one dumpsys poll attempt.
type SnapshotStatus string

const (
	SnapshotOK      SnapshotStatus = "OK"
	SnapshotTimeout SnapshotStatus = "TIMEOUT"
	SnapshotError   SnapshotStatus = "ERROR"
	SnapshotSkipped SnapshotStatus = "SKIPPED"
)

// Snapshot is one framed dumpsys poll result.
type Snapshot struct {
	HostTS     time.Time
	Task       string
	Status     SnapshotStatus
	DurationMs int
	Detail     string
	Body       string
}

// PingTimestampSource records how a PingSample's timestamp was derived.
type PingTimestampSource string

const (
	TSSourceLogPrefixEpoch PingTimestampSource = "log_prefix_epoch"
	TSSourcePingD          PingTimestampSource = "ping_D"
	TSSourceSeqEstimated   PingTimestampSource = "seq_estimated"
	TSSourceUnknown        PingTimestampSource = "unknown"
)

// Phase is the streaming-session classification of a point in time.
type Phase string

const (
	PhaseStream     Phase = "stream"
	PhasePreconnect Phase = "preconnect"
	PhasePost       Phase = "post"
	PhaseUnknown    Phase = "unknown"
)

// PingStatus is the reply outcome of a single ping attempt.
type PingStatus string

const (
	PingReply   PingStatus = "reply"
	PingNoReply PingStatus = "no_reply"
)

// PingSample is one parsed line from a device-side or host-side ping log.
type PingSample struct {
	TS        time.Time
	Seq       *int
	Success   bool
	LatencyMs *float64
	Status    PingStatus
	TSSource  PingTimestampSource
	Phase     Phase
	InSession bool
	Line      string
}

// JitterEvent is a consecutive-sample latency step of at least 8ms.
type JitterEvent struct {
	TS            time.Time
	Seq           *int
	LatencyMs     float64
	PrevLatencyMs float64
	DeltaMs       float64
	Phase         Phase
	InSession     bool
}

// HighLatencyBurst is a maximal run of above-threshold successful samples.
type HighLatencyBurst struct {
	StartTS      time.Time
	EndTS        time.Time
	Count        int
	StartSeq     *int
	EndSeq       *int
	MaxLatencyMs float64
	AvgLatencyMs float64
}

// StreamWindow is a raw, marker-driven streaming-session window.
type StreamWindow struct {
	ID               int
	StartTS          time.Time
	EndTS            time.Time
	HasStrongStart   bool
	HasStartMarker   bool
	HasEndMarker     bool
	StartMarkerCount int
	EndMarkerCount   int
	ActivityCount    int
	Score            float64
	Valid            bool
}

// EffectiveWindow is a buffered, merged expansion of one or more valid
// StreamWindows.
type EffectiveWindow struct {
	ID      int
	StartTS time.Time
	EndTS   time.Time
}

// AppMetricType enumerates the metric vocabulary extracted from the
// streaming client's own log output.
type AppMetricType string

const (
	MetricFPSTotal     AppMetricType = "fps_total"
	MetricFPSRx        AppMetricType = "fps_rx"
	MetricFPSRd        AppMetricType = "fps_rd"
	MetricLossFrames   AppMetricType = "loss_frames"
	MetricLossTotal    AppMetricType = "loss_total"
	MetricLossPct      AppMetricType = "loss_pct"
	MetricLossEvents   AppMetricType = "loss_events"
	MetricRTTMs        AppMetricType = "rtt_ms"
	MetricRTTVarMs     AppMetricType = "rtt_var_ms"
	MetricDecodeMs     AppMetricType = "decode_ms"
	MetricRenderMs     AppMetricType = "render_ms"
	MetricTotalMs      AppMetricType = "total_ms"
	MetricHostLatMinMs AppMetricType = "host_latency_min_ms"
	MetricHostLatMaxMs AppMetricType = "host_latency_max_ms"
	MetricHostLatAvgMs AppMetricType = "host_latency_avg_ms"

	// Legacy/secondary metrics produced by the regex-extractor bank.
	MetricFPSPair          AppMetricType = "fps_pair"
	MetricRTTJitterMs      AppMetricType = "rtt_jitter_ms"
	MetricLossRatePct      AppMetricType = "loss_rate_pct"
	MetricSyncOffsetMs     AppMetricType = "sync_offset_ms"
	MetricPendingAudioMs   AppMetricType = "pending_audio_ms"
	MetricTimeoutConfigMs  AppMetricType = "timeout_config_ms"
	MetricConnStatsRTTMs   AppMetricType = "conn_stats_rtt_ms"
	MetricE2ELatencyMs     AppMetricType = "e2e_latency_ms"
	MetricDecoderLatencyMs AppMetricType = "decoder_latency_ms"
	MetricDisplayRefreshHz AppMetricType = "display_refresh_hz"
)

// MetricSource identifies whether an AppMetricSample came from the
// structured [INTERNAL_STATS] grammar or a legacy regex extractor.
type MetricSource string

const (
	MetricSourceInternalStats MetricSource = "internal_stats"
	MetricSourceLegacyPattern MetricSource = "legacy_pattern"
)

// AppMetricSample is one observed value of one metric at one instant.
type AppMetricSample struct {
	TS           time.Time
	Type         AppMetricType
	Value        float64
	Unit         string
	Phase        Phase
	InSession    bool
	Confidence   float64
	MetricSource MetricSource
}

// InternalStatsSample is one [INTERNAL_STATS] line parsed as a joint
// observation across all its numeric fields.
type InternalStatsSample struct {
	TS           time.Time
	FPSTotal     float64
	FPSRx        float64
	FPSRd        float64
	LossFrames   int
	LossTotal    int
	LossPct      float64
	LossEvents   int
	RTTMs        float64
	RTTVarMs     float64
	DecodeMs     float64
	RenderMs     float64
	TotalMs      float64
	HostLatMinMs float64
	HostLatMaxMs float64
	HostLatAvgMs float64
	Decoder      string
	HDR          bool
	Phase        Phase
	InSession    bool
}

// AnomalySeverity mirrors Android log priority for app-focus anomalies.
type AnomalySeverity string

const (
	SeverityWarn   AnomalySeverity = "W"
	SeverityError  AnomalySeverity = "E"
	SeverityFatal  AnomalySeverity = "F"
	SeverityAppTag AnomalySeverity = "A"
)

// AppAnomaly is a detected problem pattern in the streaming client's log.
type AppAnomaly struct {
	TS          time.Time
	Type        string
	Severity    AnomalySeverity
	WarnOrError bool
	Phase       Phase
	InSession   bool
	Line        string
}

// Cause is one of the four exclusive hypotheses the ranking engine scores.
type Cause string

const (
	CauseNetworkPathJitter            Cause = "network_path_jitter"
	CauseRTTVarianceBurst             Cause = "rtt_variance_burst"
	CauseDecodeRenderOverload         Cause = "decode_render_overload"
	CauseSystemTransitionInterference Cause = "system_transition_interference"
)

// Level is a coarse score bucket.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Confidence mirrors Level but describes how much to trust a score.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// EvidenceRow is one supporting data point behind a CauseScore.
type EvidenceRow struct {
	TS     time.Time
	Metric string
	Value  float64
	Detail string
}

// CauseScore is the scored result for one of the four causes.
type CauseScore struct {
	Cause      Cause
	Overlap    float64
	LeadLag    float64
	Intensity  float64
	Score      float64
	Level      Level
	Confidence Confidence
	Evidence   []EvidenceRow
}

// FleetSummary is the compact record published after a report run for
// fleet-wide rollups (jitterlens-fleet).
type FleetSummary struct {
	CaptureID      string    `json:"captureId"`
	DeviceSerial   string    `json:"deviceSerial"`
	GeneratedAtIso time.Time `json:"generatedAtIso"`
	SessionCount   int       `json:"sessionCount"`
	TopCause       Cause     `json:"topCause"`
	TopCauseScore  float64   `json:"topCauseScore"`
	P95LatencyMs   float64   `json:"p95LatencyMs"`
	LossRatePct    float64   `json:"lossRatePct"`
	Degraded       bool      `json:"degraded"`
}
