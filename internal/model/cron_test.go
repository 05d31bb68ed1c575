package model_test

import (
	"testing"
	"time"

	"github.com/autocoder/progexec/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		err      string
	}{
		{"valid_5_fields", "*/15 * * * *", ""},
		{"macro_hourly", "@hourly", ""},
		{"macro_every", "@every 5m", ""},
		{"six_fields", "0 */2 * * * *", "expected exactly 5 fields, found 6: [0 */2 * * * *]"},
		{"invalid_field_count_4", "* * * *", "expected exactly 5 fields, found 4: [* * * *]"},
		{"invalid_token", "* * 32 * *", "end of range (32) above maximum (31): 32"},
		{"empty", "", "empty cron expression"},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := model.ParseCron(tc.given)
			if tc.err != "" {
				require.EqualError(t, err, tc.err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseISODuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		given string
		then  time.Duration
		err   bool
	}{
		{"P1D", 24 * time.Hour, false},
		{"PT1H", time.Hour, false},
		{"PT30M", 30 * time.Minute, false},
		{"PT1.5S", 1500 * time.Millisecond, false},
		{"PT0,2S", 200 * time.Millisecond, false},
		{"P1DT2H3M4S", 26*time.Hour + 3*time.Minute + 4*time.Second, false},
		{"", 0, true},
		{"P", 0, true},
		{"PT", 0, true},
		{"P2M", 0, true},
		{"1h", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			d, err := model.ParseISODuration(tc.given)
			if tc.err {
				require.ErrorIs(t, err, model.ErrISOFormat)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then, d)
		})
	}
}

func TestTimerSchedule(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 10, 7, 0, 0, time.UTC)

	d, err := model.TimerSchedule{Cron: "*/15 * * * *"}.Interval(now)
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, d)

	d, err = model.TimerSchedule{Duration: "PT10M"}.Interval(now)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, d)

	require.Error(t, model.TimerSchedule{}.Validate())
	require.Error(t, model.TimerSchedule{Cron: "@daily", Duration: "PT1H"}.Validate())
	require.Error(t, model.TimerSchedule{Duration: "PT0S"}.Validate())
}
