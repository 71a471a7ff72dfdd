package segments

import (
	"errors"
	"time"

	"github.com/sixdouglas/suncalc"
)

// ErrNoTwilight is returned at latitudes where the sun never crosses the civil horizon that day.
var ErrNoTwilight = errors.New("sun does not cross civil twilight on this day")

// Location is the observer used for dawn/dusk windows
type Location struct {
	Latitude  float64
	Longitude float64
	TZ        *time.Location
}

// DefaultLocation is used when nothing is configured
func DefaultLocation() Location {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		tz = time.Local
	}
	return Location{Latitude: 38.2120, Longitude: -85.2230, TZ: tz}
}

// DawnDusk returns civil dawn and dusk (sun 6 degrees below the horizon) for
// the calendar day of day in loc.TZ.
func DawnDusk(day time.Time, loc Location) (time.Time, time.Time, error) {
	tz := loc.TZ
	if tz == nil {
		tz = time.Local
	}
	y, mo, d := day.In(tz).Date()
	noon := time.Date(y, mo, d, 12, 0, 0, 0, tz)

	times := suncalc.GetTimesWithObserver(noon, suncalc.Observer{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Location:  tz,
	})
	dawn, dusk := times[suncalc.Dawn].Value, times[suncalc.Dusk].Value
	// Polar days and nights come back as zero times
	if !nearNoon(dawn, noon) || !nearNoon(dusk, noon) || !dusk.After(dawn) {
		return time.Time{}, time.Time{}, ErrNoTwilight
	}
	return dawn.In(tz), dusk.In(tz), nil
}

func nearNoon(t, noon time.Time) bool {
	if t.IsZero() {
		return false
	}
	diff := t.Sub(noon)
	return diff > -24*time.Hour && diff < 24*time.Hour
}

// SunWindows returns one dawn-to-dusk (or dusk-to-next-dawn) window per day in
// [startDay, endDay], shifted by the given minute offsets. Days without a
// twilight crossing are skipped.
func SunWindows(startDay, endDay time.Time, mode string, loc Location, dawnOffset, duskOffset int) []Segment {
	var windows []Segment
	dawnShift := time.Duration(dawnOffset) * time.Minute
	duskShift := time.Duration(duskOffset) * time.Minute

	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		dawn, dusk, err := DawnDusk(day, loc)
		if err != nil {
			continue
		}
		var start, end time.Time
		switch mode {
		case ModeDuskToDawn:
			nextDawn, _, err := DawnDusk(day.AddDate(0, 0, 1), loc)
			if err != nil {
				continue
			}
			start, end = dusk.Add(duskShift), nextDawn.Add(dawnShift)
		default:
			start, end = dawn.Add(dawnShift), dusk.Add(duskShift)
		}
		if end.After(start) {
			windows = append(windows, Segment{Start: start.Unix(), End: end.Unix()})
		}
	}
	return windows
}
