package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustTime(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	return ts
}

func TestNextRun(t *testing.T) {
	t.Parallel()

	// Monday.
	now := mustTime(t, "2025-06-02T08:00:00Z")

	tests := []struct {
		name     string
		s        Schedule
		now      time.Time
		want     string
		wantNone bool
	}{
		{
			name:     "disabled never fires",
			s:        Schedule{Enabled: false, Kind: KindOnce, At: now.Add(time.Hour)},
			now:      now,
			wantNone: true,
		},
		{
			name: "once in the future",
			s:    Schedule{Enabled: true, Kind: KindOnce, At: mustTime(t, "2025-06-02T09:30:00Z")},
			now:  now,
			want: "2025-06-02T09:30:00Z",
		},
		{
			name:     "once in the past is expired",
			s:        Schedule{Enabled: true, Kind: KindOnce, At: mustTime(t, "2025-06-02T07:00:00Z")},
			now:      now,
			wantNone: true,
		},
		{
			name:     "once exactly now is expired",
			s:        Schedule{Enabled: true, Kind: KindOnce, At: now},
			now:      now,
			wantNone: true,
		},
		{
			name: "daily later today",
			s:    Schedule{Enabled: true, Kind: KindDaily, TimeOfDay: "10:00"},
			now:  now,
			want: "2025-06-02T10:00:00Z",
		},
		{
			name: "daily already passed today rolls to tomorrow",
			s:    Schedule{Enabled: true, Kind: KindDaily, TimeOfDay: "07:30"},
			now:  now,
			want: "2025-06-03T07:30:00Z",
		},
		{
			name: "daily exactly now fires now",
			s:    Schedule{Enabled: true, Kind: KindDaily, TimeOfDay: "08:00"},
			now:  now,
			want: "2025-06-02T08:00:00Z",
		},
		{
			name: "daily restricted to friday",
			s:    Schedule{Enabled: true, Kind: KindDaily, TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Friday}},
			now:  now,
			want: "2025-06-06T09:00:00Z",
		},
		{
			name: "daily weekday set wraps past today",
			s:    Schedule{Enabled: true, Kind: KindDaily, TimeOfDay: "07:00", Weekdays: []time.Weekday{time.Monday}},
			now:  now,
			want: "2025-06-09T07:00:00Z",
		},
		{
			name: "daily empty weekday set means every day",
			s:    Schedule{Enabled: true, Kind: KindDaily, TimeOfDay: "23:59", Weekdays: nil},
			now:  now,
			want: "2025-06-02T23:59:00Z",
		},
		{
			name:     "daily without time of day never fires",
			s:        Schedule{Enabled: true, Kind: KindDaily},
			now:      now,
			wantNone: true,
		},
		{
			name: "cron every 15 minutes",
			s:    Schedule{Enabled: true, Kind: KindCron, CronExpr: "*/15 * * * *"},
			now:  mustTime(t, "2025-06-02T08:07:00Z"),
			want: "2025-06-02T08:15:00Z",
		},
		{
			name:     "cron invalid expression never fires",
			s:        Schedule{Enabled: true, Kind: KindCron, CronExpr: "not a cron"},
			now:      now,
			wantNone: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextRun(tc.s, tc.now)
			if tc.wantNone {
				if ok {
					t.Fatalf("expected no next run, got %s", got)
				}
				return
			}
			if !ok {
				t.Fatal("expected a next run, got none")
			}
			want := mustTime(t, tc.want)
			if !got.Equal(want) {
				t.Fatalf("next run = %s, want %s", got, want)
			}
		})
	}
}

func TestScheduleValidate(t *testing.T) {
	t.Parallel()

	pid := uuid.New()
	tests := []struct {
		name    string
		s       Schedule
		wantErr bool
	}{
		{"valid once", Schedule{Name: "n", PresetID: pid, Kind: KindOnce, At: time.Now()}, false},
		{"valid daily", Schedule{Name: "n", PresetID: pid, Kind: KindDaily, TimeOfDay: "08:30"}, false},
		{"valid cron", Schedule{Name: "n", PresetID: pid, Kind: KindCron, CronExpr: "0 9 * * 1-5"}, false},
		{"missing name", Schedule{PresetID: pid, Kind: KindOnce, At: time.Now()}, true},
		{"missing preset", Schedule{Name: "n", Kind: KindOnce, At: time.Now()}, true},
		{"once without timestamp", Schedule{Name: "n", PresetID: pid, Kind: KindOnce}, true},
		{"daily with bad time", Schedule{Name: "n", PresetID: pid, Kind: KindDaily, TimeOfDay: "25:99"}, true},
		{"daily with bad weekday", Schedule{Name: "n", PresetID: pid, Kind: KindDaily, TimeOfDay: "08:00", Weekdays: []time.Weekday{9}}, true},
		{"cron with bad expression", Schedule{Name: "n", PresetID: pid, Kind: KindCron, CronExpr: "x"}, true},
		{"unknown kind", Schedule{Name: "n", PresetID: pid, Kind: "hourly"}, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.s.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
