package dumpsys

import (
	"testing"
	"time"

	"github.com/streamlens/jitterlens/internal/model"
)

func snap(task, body string, t time.Time) model.Snapshot {
	return model.Snapshot{Task: task, Status: model.SnapshotOK, HostTS: t, Body: body}
}

func TestWifiOnOffTransitions(t *testing.T) {
	d := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	evs := d.Feed(snap("wifi", "Wi-Fi is enabled\nwlan0 flags UP", base))
	if len(evs) != 0 {
		t.Fatalf("first snapshot should establish baseline with no events, got %+v", evs)
	}

	evs = d.Feed(snap("wifi", "Wi-Fi is disabled\nwlan0 flags DOWN", base.Add(2*time.Second)))
	var gotOff, gotDown bool
	for _, e := range evs {
		if e.Type == model.EventWifiOff {
			gotOff = true
		}
		if e.Type == model.EventWifiIfaceDown {
			gotDown = true
		}
	}
	if !gotOff || !gotDown {
		t.Fatalf("expected WIFI_OFF and WIFI_IFACE_DOWN, got %+v", evs)
	}
}

func TestWifiRoamOnStampAdvance(t *testing.T) {
	d := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Feed(snap("wifi", "Wi-Fi is enabled\nCMD_TRIGGER_ROAMING_RESULT ts=100", base))
	evs := d.Feed(snap("wifi", "Wi-Fi is enabled\nCMD_TRIGGER_ROAMING_RESULT ts=200", base.Add(time.Second)))
	found := false
	for _, e := range evs {
		if e.Type == model.EventRoam {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ROAM on stamp advance, got %+v", evs)
	}
}

func TestAlarmQueueJumpAndBurst(t *testing.T) {
	d := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Feed(snap("alarm", "2 alarms pending\nRTC_WAKEUP x\nNext wakeup alarm in 45s", base))
	evs := d.Feed(snap("alarm",
		"12 alarms pending\nRTC_WAKEUP a\nRTC_WAKEUP b\nELAPSED_WAKEUP c\nELAPSED_WAKEUP d\nNext wakeup alarm in 45s",
		base.Add(10*time.Second)))
	var gotJump, gotBurst bool
	for _, e := range evs {
		if e.Type == model.EventAlarmQueueJump {
			gotJump = true
		}
		if e.Type == model.EventAlarmWakeupBurst {
			gotBurst = true
		}
	}
	if !gotJump || !gotBurst {
		t.Fatalf("expected ALARM_QUEUE_JUMP and ALARM_WAKEUP_BURST, got %+v", evs)
	}
}

func TestAlarmWakeupSoon(t *testing.T) {
	d := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Feed(snap("alarm", "1 alarms pending\nNext wakeup alarm in 60s", base))
	evs := d.Feed(snap("alarm", "1 alarms pending\nNext wakeup alarm in 3s", base.Add(10*time.Second)))
	found := false
	for _, e := range evs {
		if e.Type == model.EventAlarmWakeupSoon {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ALARM_WAKEUP_SOON, got %+v", evs)
	}
}

func TestJobsActiveSpike(t *testing.T) {
	d := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Feed(snap("jobs", "top-started foo enforced=false", base))
	evs := d.Feed(snap("jobs", "top-started foo enforced=true\nfgs bar enforced=true", base.Add(time.Second)))
	if len(evs) != 1 || evs[0].Type != model.EventJobActiveSpike {
		t.Fatalf("expected one JOB_ACTIVE_SPIKE, got %+v", evs)
	}
}

func TestDozeAndIdleAndBatterySaverTransitions(t *testing.T) {
	d := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Feed(snap("deviceidle", "mDeepIdleMode=false\nmLightIdleMode=false\nBattery saver is disabled", base))
	evs := d.Feed(snap("deviceidle", "mDeepIdleMode=true\nmLightIdleMode=true\nBattery saver is enabled", base.Add(time.Second)))
	types := map[model.EventType]bool{}
	for _, e := range evs {
		types[e.Type] = true
	}
	for _, want := range []model.EventType{model.EventDozeEnter, model.EventIdleEnter, model.EventBatterySaverOn} {
		if !types[want] {
			t.Fatalf("expected %s among %+v", want, evs)
		}
	}
}

func TestFirstSnapshotNeverEmitsSinceNoBaseline(t *testing.T) {
	d := New()
	evs := d.Feed(snap("wifi", "Wi-Fi is enabled", time.Now()))
	if len(evs) != 0 {
		t.Fatalf("expected no events on first observation, got %+v", evs)
	}
}
