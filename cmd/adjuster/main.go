package main

import (
	"context"
	"flag"
	"time"

	"github.com/cyclonite69/shadowcheck-sub006/internal/factory"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// One-shot threshold adjustment run, intended for cron. Reviews recent
// operator feedback and commits new settings versions where the policy
// calls for a change.
func main() {
	categoryFlag := flag.String("category", "", "radio category to adjust (default: all)")
	timeoutFlag := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	flag.Parse()

	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	category := models.RadioCategory(*categoryFlag)
	if *categoryFlag != "" && !category.Valid() {
		util.Fatal("Unknown radio category", util.String("category", *categoryFlag))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	results, err := f.ServiceFactory().AdaptiveService().RunAdaptiveAdjustment(ctx, category)
	if err != nil {
		util.Fatal("Adaptive adjustment run failed", util.ErrorField(err))
	}

	adjusted := 0
	for _, r := range results {
		if r.Adjusted {
			adjusted++
		}
	}
	util.Info("Adaptive adjustment run complete",
		util.Int("categories", len(results)),
		util.Int("adjusted", adjusted),
	)
}
