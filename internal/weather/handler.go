package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"farm-jobs/internal/farmstore"
	"farm-jobs/internal/models"
	"farm-jobs/internal/notify"
	"farm-jobs/internal/telemetry"
)

var (
	ErrLocationNotFound = errors.New("user profile or location not found")
	ErrInvalidLocation  = errors.New("invalid location data")
)

// ProfileLoader finds the profile owned by a user.
type ProfileLoader interface {
	ProfileByUser(ctx context.Context, userID string) (models.Profile, error)
}

// Forecaster fetches a forecast for a coordinate.
type Forecaster interface {
	Forecast(ctx context.Context, lat, lon float64) (Snapshot, error)
}

// Result is stored on the completed job.
type Result struct {
	UserID      string    `json:"userId"`
	Location    LatLon    `json:"location"`
	IsDangerous bool      `json:"isDangerous"`
	Severity    Severity  `json:"severity"`
	Reasons     []string  `json:"reasons"`
	Timestamp   time.Time `json:"timestamp"`
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Handler runs weather-update jobs.
type Handler struct {
	profiles  ProfileLoader
	forecasts Forecaster
	sink      notify.Sink
	log       *slog.Logger
	now       func() time.Time

	sinkTimeout time.Duration
}

func NewHandler(profiles ProfileLoader, forecasts Forecaster, sink notify.Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		profiles:    profiles,
		forecasts:   forecasts,
		sink:        sink,
		log:         logger,
		now:         time.Now,
		sinkTimeout: notify.SendTimeout,
	}
}

// Handle loads the user's location, evaluates the forecast and alerts the
// user when conditions are dangerous.
func (h *Handler) Handle(ctx context.Context, job models.Job) (any, error) {
	userID := job.Payload.UserID
	profile, err := h.profiles.ProfileByUser(ctx, userID)
	if errors.Is(err, farmstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrLocationNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	lat, lon, err := coordinates(profile.Location)
	if err != nil {
		return nil, err
	}

	snapshot, err := h.forecasts.Forecast(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	now := h.now()
	assessment := Evaluate(snapshot, now)
	telemetry.WeatherAssessments.WithLabelValues(assessment.Severity.String(), strconv.FormatBool(assessment.IsDangerous)).Inc()

	if assessment.IsDangerous && h.sink != nil {
		sctx, cancel := context.WithTimeout(ctx, h.sinkTimeout)
		err := h.sink.WeatherAlert(sctx, userID, assessment.Severity.String(), assessment.Reasons)
		cancel()
		if err != nil {
			h.log.Warn("weather notification failed", "user_id", userID, "error", err)
		}
	}

	return Result{
		UserID:      userID,
		Location:    LatLon{Lat: lat, Lon: lon},
		IsDangerous: assessment.IsDangerous,
		Severity:    assessment.Severity,
		Reasons:     assessment.Reasons,
		Timestamp:   now.UTC(),
	}, nil
}

// coordinates extracts latitude and longitude from a GeoJSON point.
func coordinates(p *models.GeoPoint) (lat, lon float64, err error) {
	if p == nil {
		return 0, 0, ErrLocationNotFound
	}
	if p.Type != "Point" || len(p.Coordinates) < 2 {
		return 0, 0, fmt.Errorf("%w: type=%q coordinates=%v", ErrInvalidLocation, p.Type, p.Coordinates)
	}
	return p.Coordinates[1], p.Coordinates[0], nil
}
