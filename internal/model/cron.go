package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser5 = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five field cron expression or a @macro.
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, errors.New("empty cron expression")
	}
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}
	return cronParser5.Parse(e)
}

// Validate checks that exactly one of Cron and Duration is set and parses.
func (s TimerSchedule) Validate() error {
	switch {
	case s.Cron != "" && s.Duration != "":
		return errors.New("both cron and duration are set")
	case s.Cron != "":
		if _, err := ParseCron(s.Cron); err != nil {
			return fmt.Errorf("parsing service.schedule.cron: %w", err)
		}
	case s.Duration != "":
		d, err := ParseISODuration(s.Duration)
		if err != nil {
			return fmt.Errorf("parsing service.schedule.duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("service.schedule.duration must be positive, got %s", s.Duration)
		}
	default:
		return errors.New("both cron and duration are empty")
	}
	return nil
}

// Interval approximates the time between two runs. For cron schedules this
// is the gap between the next two activations after now.
func (s TimerSchedule) Interval(now time.Time) (time.Duration, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	if s.Duration != "" {
		return ParseISODuration(s.Duration)
	}
	schedule, err := ParseCron(s.Cron)
	if err != nil {
		return 0, err
	}
	next := schedule.Next(now)
	return schedule.Next(next).Sub(next), nil
}

var isoDurationRx = regexp.MustCompile(`^P((?P<day>\d+)D)?(T?(?:(?P<hour>[+-]?\d+)H)?(?:(?P<minute>[+-]?\d+)M)?(?:(?P<second>[+-]?\d+(?:[.,]\d+)?)S)?)?$`)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// ParseISODuration parses the day and time parts of an ISO8601 duration,
// e.g. P1D, PT30M, PT1.5S. Years, months and weeks are not supported.
func ParseISODuration(dur string) (time.Duration, error) {
	if dur == "" || dur == "P" || dur == "PT" || !isoDurationRx.MatchString(dur) {
		return 0, ErrISOFormat
	}
	match := isoDurationRx.FindStringSubmatch(dur)

	// P2M would be two months
	hasT := strings.Contains(dur, "T")
	hasTime := false

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if i == 0 || name == "" || part == "" {
			continue
		}
		num, frac, err := splitNumber(part)
		if err != nil {
			return 0, err
		}
		var unit time.Duration
		switch name {
		case "day":
			unit = 24 * time.Hour
		case "hour":
			hasTime, hasT = true, true
			unit = time.Hour
		case "minute":
			if !hasT {
				return 0, ErrISOFormat
			}
			hasTime = true
			unit = time.Minute
		case "second":
			hasTime = true
			unit = time.Second
		}
		ret += time.Duration(num) * unit
		if num >= 0 {
			ret += time.Duration(frac * float64(unit))
		} else {
			ret -= time.Duration(frac * float64(unit))
		}
	}

	if hasT && !hasTime {
		return 0, ErrISOFormat
	}
	return ret, nil
}

func splitNumber(s string) (num int, frac float64, err error) {
	s = strings.Replace(s, ",", ".", 1)
	whole, fraction, ok := strings.Cut(s, ".")
	if ok {
		if len(fraction) > 9 {
			return 0, 0, ErrISOFormat
		}
		f, err := strconv.Atoi(fraction)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing fraction: %w", err)
		}
		frac = float64(f) / math.Pow10(len(fraction))
	}
	num, err = strconv.Atoi(whole)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing number: %w", err)
	}
	return num, frac, nil
}
