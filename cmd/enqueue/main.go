// Command enqueue submits or cancels a job from the shell.
//
//	enqueue -kind weather-update -user 64b7f0c2a1b2c3d4e5f60718
//	enqueue -kind inventory-summary -user 64b7... -repeat "0 6 * * *"
//	enqueue -kind inventory-summary -user 64b7... -cancel
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"farm-jobs/internal/config"
	"farm-jobs/internal/jobs"
	"farm-jobs/internal/models"
	"farm-jobs/internal/queue"
)

func main() {
	kindFlag := flag.String("kind", string(models.KindWeatherUpdate), "job kind: weather-update or inventory-summary")
	user := flag.String("user", "", "user id the job runs for")
	repeat := flag.String("repeat", "", "cron pattern; registers a repeating schedule instead of a one-shot job")
	cancel := flag.Bool("cancel", false, "remove the user's repeating schedule for kind")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*kindFlag, *user, *repeat, *cancel); err != nil {
		slog.Error("enqueue failed", "error", err)
		os.Exit(1)
	}
}

func run(kindArg, user, repeat string, cancel bool) error {
	kind, err := models.ParseKind(kindArg)
	if err != nil {
		return err
	}
	cfg := config.Load()

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	rdb, err := queue.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	submitter := jobs.NewSubmitter(queue.NewRedisQueue(rdb, kind, queue.OptionsFromConfig(cfg)))

	if cancel {
		if err := submitter.CancelScheduled(ctx, user, kind); err != nil {
			return err
		}
		slog.Info("schedule cancelled", "kind", kind, "user_id", user)
		return nil
	}

	sched := models.OneShot()
	if repeat != "" {
		sched = models.Repeating(repeat)
	}
	sub, err := submitter.Enqueue(ctx, kind, user, sched)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
