// Package notify delivers weather and low-stock alerts to farmers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SendTimeout bounds one alert delivery so a slow sink cannot hold a worker slot.
const SendTimeout = 10 * time.Second

// Sink receives alert events. Callers treat delivery as best-effort.
type Sink interface {
	WeatherAlert(ctx context.Context, userID, severity string, reasons []string) error
	LowStock(ctx context.Context, userID string, productNames []string) error
}

// WeatherMessage renders a weather alert as user-facing text.
func WeatherMessage(severity string, reasons []string) string {
	return fmt.Sprintf("Weather alert (%s): %s", severity, strings.Join(reasons, "; "))
}

// LowStockMessage renders a low-stock alert as user-facing text.
func LowStockMessage(productNames []string) string {
	return "Low stock for " + strings.Join(productNames, ", ")
}

// LogSink writes alerts to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s LogSink) WeatherAlert(_ context.Context, userID, severity string, reasons []string) error {
	s.logger().Info("weather alert", "user_id", userID, "severity", severity, "reasons", reasons)
	return nil
}

func (s LogSink) LowStock(_ context.Context, userID string, productNames []string) error {
	s.logger().Info("low stock", "user_id", userID, "products", productNames)
	return nil
}

// NotificationWriter persists in-app notifications.
type NotificationWriter interface {
	InsertNotification(ctx context.Context, recipient, message string) error
}

// StoreSink records alerts as in-app notifications.
type StoreSink struct {
	Writer NotificationWriter
}

func (s StoreSink) WeatherAlert(ctx context.Context, userID, severity string, reasons []string) error {
	return s.Writer.InsertNotification(ctx, userID, WeatherMessage(severity, reasons))
}

func (s StoreSink) LowStock(ctx context.Context, userID string, productNames []string) error {
	return s.Writer.InsertNotification(ctx, userID, LowStockMessage(productNames))
}

// Multi fans an alert out to every sink. One sink failing does not stop the others.
type Multi []Sink

func (m Multi) WeatherAlert(ctx context.Context, userID, severity string, reasons []string) error {
	var errs []error
	for _, s := range m {
		if err := s.WeatherAlert(ctx, userID, severity, reasons); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) LowStock(ctx context.Context, userID string, productNames []string) error {
	var errs []error
	for _, s := range m {
		if err := s.LowStock(ctx, userID, productNames); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
