package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrForecastUnavailable wraps every failure to obtain a forecast.
var ErrForecastUnavailable = errors.New("forecast unavailable")

// Snapshot is one forecast for a location, flattened from the provider's
// parallel arrays.
type Snapshot struct {
	Latitude  float64
	Longitude float64
	Current   Current
	Hourly    []Hour
	Daily     []Day
}

type Current struct {
	Temperature float64
	Humidity    float64
	WindSpeed   float64
	WeatherCode int
}

type Hour struct {
	Time        time.Time
	Temperature float64
	Humidity    float64
	WindSpeed   float64
}

// Day is one daily aggregate. Index 0 of Snapshot.Daily is today.
type Day struct {
	Date          string
	TempMax       float64
	TempMin       float64
	Precipitation float64
	WeatherCode   int
}

// Limiter throttles outbound calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client fetches forecasts from the Open-Meteo API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    Limiter
}

// NewClient builds a client. limiter may be nil.
func NewClient(baseURL string, timeout time.Duration, limiter Limiter) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

type openMeteoResponse struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds"`
	Current          struct {
		Temperature2M      float64 `json:"temperature_2m"`
		RelativeHumidity2M float64 `json:"relative_humidity_2m"`
		WindSpeed10M       float64 `json:"wind_speed_10m"`
		WeatherCode        int     `json:"weather_code"`
	} `json:"current"`
	Hourly struct {
		Time               []string  `json:"time"`
		Temperature2M      []float64 `json:"temperature_2m"`
		RelativeHumidity2M []float64 `json:"relative_humidity_2m"`
		WindSpeed10M       []float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
	Daily struct {
		Time             []string  `json:"time"`
		Temperature2MMax []float64 `json:"temperature_2m_max"`
		Temperature2MMin []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
		WeatherCode      []int     `json:"weather_code"`
	} `json:"daily"`
}

// Forecast retrieves current, hourly and daily conditions for a coordinate.
func (c *Client) Forecast(ctx context.Context, lat, lon float64) (Snapshot, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Snapshot{}, fmt.Errorf("%w: rate limiter: %w", ErrForecastUnavailable, err)
		}
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code")
	q.Set("hourly", "temperature_2m,relative_humidity_2m,wind_speed_10m")
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,weather_code")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrForecastUnavailable, err)
	}
	var resp openMeteoResponse
	if err := c.doJSON(req, &resp); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrForecastUnavailable, err)
	}
	return resp.snapshot()
}

// doJSON performs an HTTP request and decodes a successful JSON response body.
func (c *Client) doJSON(req *http.Request, dst any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("weather provider returned status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (r openMeteoResponse) snapshot() (Snapshot, error) {
	// Hourly times are local wall-clock without an offset when timezone=auto.
	loc := time.FixedZone("forecast", r.UTCOffsetSeconds)

	s := Snapshot{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Current: Current{
			Temperature: r.Current.Temperature2M,
			Humidity:    r.Current.RelativeHumidity2M,
			WindSpeed:   r.Current.WindSpeed10M,
			WeatherCode: r.Current.WeatherCode,
		},
	}

	n := minLen(len(r.Hourly.Time), len(r.Hourly.Temperature2M), len(r.Hourly.RelativeHumidity2M), len(r.Hourly.WindSpeed10M))
	s.Hourly = make([]Hour, 0, n)
	for i := 0; i < n; i++ {
		t, err := parseForecastTime(r.Hourly.Time[i], loc)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: hourly time %q: %w", ErrForecastUnavailable, r.Hourly.Time[i], err)
		}
		s.Hourly = append(s.Hourly, Hour{
			Time:        t,
			Temperature: r.Hourly.Temperature2M[i],
			Humidity:    r.Hourly.RelativeHumidity2M[i],
			WindSpeed:   r.Hourly.WindSpeed10M[i],
		})
	}

	n = minLen(len(r.Daily.Time), len(r.Daily.Temperature2MMax), len(r.Daily.Temperature2MMin),
		len(r.Daily.PrecipitationSum), len(r.Daily.WeatherCode))
	s.Daily = make([]Day, 0, n)
	for i := 0; i < n; i++ {
		s.Daily = append(s.Daily, Day{
			Date:          r.Daily.Time[i],
			TempMax:       r.Daily.Temperature2MMax[i],
			TempMin:       r.Daily.Temperature2MMin[i],
			Precipitation: r.Daily.PrecipitationSum[i],
			WeatherCode:   r.Daily.WeatherCode[i],
		})
	}
	return s, nil
}

func parseForecastTime(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04", v, loc)
}

func minLen(lens ...int) int {
	m := lens[0]
	for _, l := range lens[1:] {
		if l < m {
			m = l
		}
	}
	return m
}
