package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclonite69/shadowcheck-sub006/internal/factory"
	"github.com/cyclonite69/shadowcheck-sub006/internal/handler"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/service"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	// Setup HTTP router with handlers using Chi
	router := setupRouter(f)

	// Create HTTP server with configured timeouts
	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Periodic background detection sweeps
	stopSweeps := make(chan struct{})
	if cfg.Detection.ScanInterval > 0 {
		go runDetectionSweeps(f, cfg.Detection.ScanInterval, stopSweeps)
	}

	// Event-driven analysis off the canonical-observation stream
	workerCtx, stopWorker := context.WithCancel(context.Background())
	if consumer := f.KafkaConsumer(); consumer != nil {
		worker := service.NewObservationWorker(consumer, f.ServiceFactory().AnalysisService(), util.Get())
		go func() {
			if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				util.Error("Observation worker stopped", util.ErrorField(err))
			}
		}()
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("address", server.Addr),
		util.Duration("scan_interval", cfg.Detection.ScanInterval),
	)

	waitForShutdown(f, server, stopSweeps, stopWorker)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	serviceFactory := f.ServiceFactory()
	detectionHandler := handler.NewDetectionHandler(
		serviceFactory.IngestService(),
		serviceFactory.AnalysisService(),
		serviceFactory.ThreatService(),
		serviceFactory.SettingsService(),
		util.Get(),
	)
	return handler.NewRouter(detectionHandler, f.IsHealthy, util.Get())
}

// runDetectionSweeps re-analyzes and re-scores every category on a timer.
func runDetectionSweeps(f *factory.Factory, interval time.Duration, stop <-chan struct{}) {
	serviceFactory := f.ServiceFactory()
	analysis := serviceFactory.AnalysisService()
	threats := serviceFactory.ThreatService()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			for _, category := range models.AllCategories {
				if _, err := analysis.AnalyzeCategory(ctx, category); err != nil {
					util.Warn("Scheduled analysis failed",
						util.String("category", string(category)),
						util.ErrorField(err),
					)
					continue
				}
				if _, err := threats.RunDetection(ctx, category); err != nil {
					util.Warn("Scheduled detection failed",
						util.String("category", string(category)),
						util.ErrorField(err),
					)
				}
			}
			cancel()
		}
	}
}

func waitForShutdown(f *factory.Factory, server *http.Server, stopSweeps chan struct{}, stopWorker context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	close(stopSweeps)
	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}
	f.Close()
}
