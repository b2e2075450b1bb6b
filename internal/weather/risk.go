package weather

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"
)

// Severity orders how harmful forecast conditions are for crops.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// Finding is one triggered rule.
type Finding struct {
	Reason   string
	Severity Severity
}

// Assessment is the verdict for one forecast.
type Assessment struct {
	IsDangerous bool     `json:"isDangerous"`
	Severity    Severity `json:"severity"`
	Reasons     []string `json:"reasons"`
}

// Open-Meteo WMO weather codes.
var (
	extremeCodes      = []int{95, 96, 99}
	thunderstormCodes = []int{95, 96, 99}
	heavyRainCodes    = []int{65, 67, 81, 82}
	freezingRainCodes = []int{56, 57, 66, 67}
	heavySnowCodes    = []int{75, 77, 85, 86}
)

// codeCategories are checked in order; only the first match counts.
var codeCategories = []struct {
	codes []int
	Finding
}{
	{extremeCodes, Finding{"Thunderstorm with possible hail expected", SeverityHigh}},
	{thunderstormCodes, Finding{"Thunderstorm expected", SeverityMedium}},
	{heavyRainCodes, Finding{"Heavy rain expected", SeverityMedium}},
	{freezingRainCodes, Finding{"Freezing rain expected", SeverityHigh}},
	{heavySnowCodes, Finding{"Heavy snow expected", SeverityHigh}},
}

// Evaluate classifies the 24 hours following now and tomorrow's daily outlook.
func Evaluate(s Snapshot, now time.Time) Assessment {
	return Reduce(Findings(s, now))
}

// Findings applies every threshold rule and returns the triggered ones in
// rule order.
func Findings(s Snapshot, now time.Time) []Finding {
	var out []Finding
	add := func(reason string, sev Severity) { out = append(out, Finding{reason, sev}) }

	window := nextDay(s.Hourly, now)
	var humidity *Finding
	if len(window) > 0 {
		maxTemp, minTemp := math.Inf(-1), math.Inf(1)
		maxWind, humiditySum := math.Inf(-1), 0.0
		for _, h := range window {
			maxTemp = math.Max(maxTemp, h.Temperature)
			minTemp = math.Min(minTemp, h.Temperature)
			maxWind = math.Max(maxWind, h.WindSpeed)
			humiditySum += h.Humidity
		}
		avgHumidity := humiditySum / float64(len(window))

		switch {
		case maxTemp > 40:
			add(fmt.Sprintf("Extreme heat expected: %.1f°C", maxTemp), SeverityHigh)
		case maxTemp > 35:
			add(fmt.Sprintf("High temperature expected: %.1f°C", maxTemp), SeverityMedium)
		}
		switch {
		case minTemp < 0:
			add(fmt.Sprintf("Freezing conditions expected: %.1f°C", minTemp), SeverityHigh)
		case minTemp < 5:
			add(fmt.Sprintf("Cold conditions expected: %.1f°C", minTemp), SeverityMedium)
		}
		switch {
		case maxWind > 70:
			add(fmt.Sprintf("Severe wind expected: %.1f km/h", maxWind), SeverityHigh)
		case maxWind > 50:
			add(fmt.Sprintf("Strong wind expected: %.1f km/h", maxWind), SeverityMedium)
		}
		switch {
		case avgHumidity > 90:
			humidity = &Finding{fmt.Sprintf("Very high humidity expected: %.0f%%", avgHumidity), SeverityMedium}
		case avgHumidity < 20:
			humidity = &Finding{fmt.Sprintf("Very low humidity expected: %.0f%%", avgHumidity), SeverityMedium}
		}
	}

	if len(s.Daily) > 1 {
		tomorrow := s.Daily[1]
		for _, c := range codeCategories {
			if slices.Contains(c.codes, tomorrow.WeatherCode) {
				add(c.Reason, c.Severity)
				break
			}
		}
		switch {
		case tomorrow.Precipitation > 50:
			add(fmt.Sprintf("Heavy precipitation expected: %.1fmm", tomorrow.Precipitation), SeverityHigh)
		case tomorrow.Precipitation > 25:
			add(fmt.Sprintf("Moderate to heavy precipitation expected: %.1fmm", tomorrow.Precipitation), SeverityMedium)
		}
	}

	// Humidity is reported after the daily rules.
	if humidity != nil {
		out = append(out, *humidity)
	}
	return out
}

// Reduce folds findings into an assessment. The severity is the maximum over
// all findings, so the result does not depend on their order.
func Reduce(findings []Finding) Assessment {
	a := Assessment{Severity: SeverityLow, Reasons: make([]string, 0, len(findings))}
	for _, f := range findings {
		a.Reasons = append(a.Reasons, f.Reason)
		if f.Severity > a.Severity {
			a.Severity = f.Severity
		}
	}
	a.IsDangerous = len(a.Reasons) > 0
	return a
}

// nextDay returns the hourly points in [now, now+24h).
func nextDay(hours []Hour, now time.Time) []Hour {
	end := now.Add(24 * time.Hour)
	var out []Hour
	for _, h := range hours {
		if !h.Time.Before(now) && h.Time.Before(end) {
			out = append(out, h)
		}
	}
	return out
}
