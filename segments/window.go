package segments

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window modes
const (
	ModeFullDay    = "fullday"
	ModeDawnToDusk = "dawntodusk"
	ModeDuskToDawn = "dusktodawn"
	ModeCustom     = "custom"
)

const dayLayout = "2006-01-02"

// WindowSpec is the user's date/time request
type WindowSpec struct {
	Date       string `json:"date,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
	Days       int    `json:"days,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
	DawnToDusk bool   `json:"dawntodusk,omitempty"`
	DuskToDawn bool   `json:"dusktodawn,omitempty"`
	DawnOffset int    `json:"dawn_offset,omitempty"` // minutes
	DuskOffset int    `json:"dusk_offset,omitempty"` // minutes
}

// Window is a resolved [After, Before) range
type Window struct {
	After    int64     `json:"after"`
	Before   int64     `json:"before"`
	Start    time.Time `json:"start_local"`
	End      time.Time `json:"end_local"`
	Tag      string    `json:"window_tag"`
	StartDay time.Time `json:"start_day"`
	EndDay   time.Time `json:"end_day"`
}

// Seconds returns the window length
func (w Window) Seconds() int64 {
	return w.Before - w.After
}

// DayLabel names the window's calendar span for output files
func (w Window) DayLabel() string {
	first := w.StartDay.Format(dayLayout)
	last := w.EndDay.Format(dayLayout)
	if first == last {
		return first
	}
	return first + "_to_" + last
}

// Mode returns the dawn/dusk mode requested, or fullday
func (s WindowSpec) Mode() string {
	switch {
	case s.StartTime != "" || s.EndTime != "":
		return ModeCustom
	case s.DawnToDusk:
		return ModeDawnToDusk
	case s.DuskToDawn:
		return ModeDuskToDawn
	}
	return ModeFullDay
}

// Validate rejects contradictory or malformed requests without resolving sun times
func (s WindowSpec) Validate(tz *time.Location) error {
	if (s.StartTime == "") != (s.EndTime == "") {
		return errors.New("start_time and end_time must be provided together")
	}
	if s.DawnToDusk && s.DuskToDawn {
		return errors.New("dawntodusk and dusktodawn are mutually exclusive")
	}
	if s.StartTime != "" {
		if s.DawnToDusk || s.DuskToDawn {
			return errors.New("start_time/end_time cannot be combined with dawntodusk/dusktodawn")
		}
		start, err := ParseTimeArg(s.StartTime, tz)
		if err != nil {
			return err
		}
		end, err := ParseTimeArg(s.EndTime, tz)
		if err != nil {
			return err
		}
		if !end.After(start) {
			return errors.New("end_time must be after start_time")
		}
		return nil
	}
	if s.Days < 0 {
		return errors.New("days must be >= 1")
	}
	for _, v := range []string{s.Date, s.StartDate, s.EndDate} {
		if v == "" {
			continue
		}
		if _, err := time.ParseInLocation(dayLayout, v, tz); err != nil {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", v)
		}
	}
	return nil
}

// ParseTimeArg accepts epoch seconds or ISO-8601. Values without an offset are read in tz.
func ParseTimeArg(value string, tz *time.Location) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Unix(int64(f), 0).In(tz), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z07:00", "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.In(tz), nil
		}
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		dayLayout,
	} {
		if t, err := time.ParseInLocation(layout, v, tz); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: expected ISO-8601 or epoch seconds", value)
}

func midnight(t time.Time, tz *time.Location) time.Time {
	y, m, d := t.In(tz).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tz)
}

// ResolveWindow turns a spec into concrete bounds. now anchors "yesterday".
func ResolveWindow(spec WindowSpec, loc Location, now time.Time) (Window, error) {
	tz := loc.TZ
	if tz == nil {
		tz = time.Local
	}
	if err := spec.Validate(tz); err != nil {
		return Window{}, err
	}

	if spec.StartTime != "" {
		start, _ := ParseTimeArg(spec.StartTime, tz)
		end, _ := ParseTimeArg(spec.EndTime, tz)
		return Window{
			After:    start.Unix(),
			Before:   end.Unix(),
			Start:    start,
			End:      end,
			Tag:      ModeCustom,
			StartDay: midnight(start, tz),
			EndDay:   midnight(end, tz),
		}, nil
	}

	var startDay time.Time
	switch {
	case spec.StartDate != "":
		startDay, _ = time.ParseInLocation(dayLayout, spec.StartDate, tz)
	case spec.Date != "":
		startDay, _ = time.ParseInLocation(dayLayout, spec.Date, tz)
	default:
		startDay = midnight(now, tz).AddDate(0, 0, -1)
	}

	endDay := startDay
	switch {
	case spec.EndDate != "":
		endDay, _ = time.ParseInLocation(dayLayout, spec.EndDate, tz)
	case spec.Days > 0:
		endDay = startDay.AddDate(0, 0, spec.Days-1)
	}
	if endDay.Before(startDay) {
		return Window{}, errors.New("end date must be on or after start date")
	}

	w := Window{StartDay: startDay, EndDay: endDay, Tag: spec.Mode()}
	dawnShift := time.Duration(spec.DawnOffset) * time.Minute
	duskShift := time.Duration(spec.DuskOffset) * time.Minute

	switch w.Tag {
	case ModeDawnToDusk:
		dawn, _, err := DawnDusk(startDay, loc)
		if err != nil {
			return Window{}, fmt.Errorf("dawn on %s: %w", startDay.Format(dayLayout), err)
		}
		_, dusk, err := DawnDusk(endDay, loc)
		if err != nil {
			return Window{}, fmt.Errorf("dusk on %s: %w", endDay.Format(dayLayout), err)
		}
		w.Start, w.End = dawn.Add(dawnShift), dusk.Add(duskShift)
	case ModeDuskToDawn:
		_, dusk, err := DawnDusk(startDay, loc)
		if err != nil {
			return Window{}, fmt.Errorf("dusk on %s: %w", startDay.Format(dayLayout), err)
		}
		nextDay := endDay.AddDate(0, 0, 1)
		dawn, _, err := DawnDusk(nextDay, loc)
		if err != nil {
			return Window{}, fmt.Errorf("dawn on %s: %w", nextDay.Format(dayLayout), err)
		}
		w.Start, w.End = dusk.Add(duskShift), dawn.Add(dawnShift)
	default:
		w.Start = startDay
		w.End = endDay.AddDate(0, 0, 1)
	}

	if !w.End.After(w.Start) {
		return Window{}, errors.New("resolved window is empty")
	}
	w.After, w.Before = w.Start.Unix(), w.End.Unix()
	return w, nil
}
