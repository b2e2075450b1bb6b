// Package inventory turns a farmer's stock and usage history into an
// AI-generated procurement and crop-planning summary.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"farm-jobs/internal/models"
	"farm-jobs/internal/notify"
	"farm-jobs/internal/telemetry"
)

// DefaultLowStockThreshold is the quantity below which an item is low.
const DefaultLowStockThreshold = 10

// Store is the document access the aggregator needs.
type Store interface {
	ProfileByUser(ctx context.Context, userID string) (models.Profile, error)
	InventoryForUser(ctx context.Context, userID string) ([]models.Inventory, error)
	UsageSince(ctx context.Context, userID string, since time.Time) ([]models.Usage, error)
	SaveInventorySummary(ctx context.Context, profileID primitive.ObjectID, summary models.AiInventorySummary) error
}

// Archiver keeps a copy of each generated summary.
type Archiver interface {
	Save(ctx context.Context, userID string, summary models.AiInventorySummary) (string, error)
}

type Options struct {
	LowStockThreshold float64
	// Archive is optional.
	Archive Archiver
	Logger  *slog.Logger
	// Location sets the calendar used for the prompt date and season.
	// Defaults to the process's local time zone (TZ).
	Location *time.Location
}

// Aggregator runs inventory-summary jobs.
type Aggregator struct {
	store     Store
	generator models.SummaryGenerator
	sink      notify.Sink
	archive   Archiver
	threshold float64
	log       *slog.Logger
	now       func() time.Time
	loc       *time.Location

	sinkTimeout time.Duration
}

func NewAggregator(store Store, generator models.SummaryGenerator, sink notify.Sink, opts Options) *Aggregator {
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = DefaultLowStockThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Aggregator{
		store:     store,
		generator: generator,
		sink:      sink,
		archive:   opts.Archive,
		threshold: opts.LowStockThreshold,
		log:       opts.Logger,
		now:       time.Now,
		loc:       opts.Location,

		sinkTimeout: notify.SendTimeout,
	}
}

// Result is stored on the completed job.
type Result struct {
	UserID    string   `json:"userId"`
	Success   bool     `json:"success"`
	Provider  string   `json:"provider"`
	LowStock  []string `json:"lowStock,omitempty"`
	ArchiveAt string   `json:"archivedAt,omitempty"`
}

// Handle loads the user's data, generates a fresh summary, stores it on the
// profile and then flags low-stock items. A generation failure aborts before
// anything is written.
func (a *Aggregator) Handle(ctx context.Context, job models.Job) (any, error) {
	userID := job.Payload.UserID
	now := a.now().In(a.loc)

	profile, err := a.store.ProfileByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	items, err := a.store.InventoryForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	usage, err := a.store.UsageSince(ctx, userID, now.AddDate(-1, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}

	prompt := BuildPrompt(PromptInput{
		Now:       now,
		Address:   profile.Address,
		Inventory: items,
		Usage:     usage,
	})

	start := time.Now()
	summary, err := a.generator.GenerateSummary(ctx, prompt)
	telemetry.GenerationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("generate summary with %s: %w", a.generator.Name(), err)
	}

	if err := a.store.SaveInventorySummary(ctx, profile.ID, summary); err != nil {
		return nil, err
	}

	res := Result{UserID: userID, Success: true, Provider: a.generator.Name()}
	if a.archive != nil {
		loc, err := a.archive.Save(ctx, userID, summary)
		if err != nil {
			a.log.Warn("archive inventory summary", "user_id", userID, "error", err)
		} else {
			res.ArchiveAt = loc
		}
	}

	low := LowStock(items, a.threshold)
	if len(low) > 0 {
		names := productNames(low)
		res.LowStock = names
		telemetry.LowStockAlerts.Inc()
		a.log.Info("low stock", "user_id", userID, "products", names)
		if a.sink != nil {
			sctx, cancel := context.WithTimeout(ctx, a.sinkTimeout)
			err := a.sink.LowStock(sctx, userID, names)
			cancel()
			if err != nil {
				a.log.Warn("low stock notification failed", "user_id", userID, "error", err)
			}
		}
	}
	return res, nil
}

// LowStock returns the items whose quantity is strictly below threshold.
func LowStock(items []models.Inventory, threshold float64) []models.Inventory {
	var out []models.Inventory
	for _, it := range items {
		if it.Quantity < threshold {
			out = append(out, it)
		}
	}
	return out
}

func productNames(items []models.Inventory) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.Product != nil && it.Product.Name != "" {
			names = append(names, it.Product.Name)
			continue
		}
		names = append(names, it.ID.Hex())
	}
	return names
}
