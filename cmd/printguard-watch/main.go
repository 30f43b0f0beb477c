package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"printguard/internal/core/detection"
	"printguard/internal/core/vision"
	"printguard/internal/modkit"
	"printguard/internal/modkit/module"
	"printguard/internal/platform/config"
	"printguard/internal/platform/logger"
	phttp "printguard/internal/platform/net/http"
	"printguard/internal/services/alerts"
	"printguard/internal/services/frames"
	"printguard/internal/services/history"
	"printguard/internal/services/printer"
	"printguard/internal/services/status"

	watchdom "printguard/internal/services/watch/domain"
	watchmod "printguard/internal/services/watch/module"
)

func main() {
	_ = godotenv.Load()

	root := config.New()
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Model weights and labels come first; nothing else matters without them
	modelCfg := root.Prefix("MODEL_")
	modelPath := modelCfg.MayString("PATH", "model.onnx")
	if url := modelCfg.MayString("WEIGHTS_URL", ""); url != "" {
		if err := vision.EnsureWeights(ctx, modelPath, url); err != nil {
			l.Panic().Err(err).Msg("model weights unavailable")
		}
	}
	labels, err := detection.LoadLabels(modelCfg.MayString("LABELS", "labels.txt"))
	if err != nil {
		l.Panic().Err(err).Msg("labels unavailable")
	}

	det, err := vision.NewDetector(vision.Config{
		ModelPath: modelPath,
		InputSize: modelCfg.MayInt("INPUT_SIZE", 416),
		Classes:   len(labels),
		Flip:      root.Prefix("CAMERA_").MayBool("FLIP", false),
	})
	if err != nil {
		l.Panic().Err(err).Msg("detector init failed")
	}
	defer det.Close()

	camCfg := root.Prefix("CAMERA_")
	cycler, err := frames.New(frames.Config{
		URLs:        camCfg.MustCSV("URLS"),
		Timeout:     camCfg.MayDuration("TIMEOUT", 10*time.Second),
		MaxFailures: camCfg.MayInt("MAX_FAILURES", 15),
	})
	if err != nil {
		l.Panic().Err(err).Msg("camera config rejected")
	}

	alertCfg := root.Prefix("ALERT_")
	notifier, err := alerts.New(alerts.Config{
		WebhookURL: alertCfg.MustString("WEBHOOK_URL"),
		MaxRetries: alertCfg.MayInt("MAX_RETRIES", 3),
		Backoff:    alertCfg.MayDuration("BACKOFF", 2*time.Second),
	})
	if err != nil {
		l.Panic().Err(err).Msg("alert config rejected")
	}

	prCfg := root.Prefix("PRINTER_")
	printCtl, err := printer.New(printer.Config{
		APIURL:  prCfg.MustString("API_URL"),
		Action:  prCfg.MayEnum("ACTION", printer.ActionPause, printer.ActionPause, printer.ActionCancel),
		Timeout: prCfg.MayDuration("TIMEOUT", 10*time.Second),
	})
	if err != nil {
		l.Panic().Err(err).Msg("printer config rejected")
	}

	var store *history.Store
	if path := root.Prefix("HISTORY_").MayString("DB_PATH", "printguard.db"); path != "none" {
		store, err = history.Open(path)
		if err != nil {
			l.Panic().Err(err).Msg("history db open failed")
		}
		defer func() {
			if err := store.Close(); err != nil {
				l.Error().Err(err).Msg("history db close failed")
			}
		}()
	}

	hub := status.NewHub()

	deps := modkit.Deps{Cfg: root, Log: *l}

	ports := watchdom.Ports{
		Frames:  cycler,
		Detect:  det,
		Alerts:  notifier,
		Printer: printCtl,
		Publish: hub,
	}
	if store != nil {
		ports.History = store
	}

	wm := watchmod.New(deps, watchmod.Options{}, modkit.WithPorts(ports))
	module.Register(wm.Name(), wm.Ports())
	wp := wm.Ports().(watchmod.Ports)

	srv := phttp.NewServer(root.Prefix("STATUS_").MayPort("PORT", ":8493"))
	status.NewServer(wp.Status, store, printCtl, hub).Mount(srv.Mux())

	go hub.Run(ctx)
	go func() {
		if err := srv.Run(ctx); err != nil {
			l.Error().Err(err).Msg("status server failed")
			stop()
		}
	}()

	err = wp.Runner.Run(ctx)
	if err != nil && err != context.Canceled {
		l.Error().Err(err).Msg("watch loop failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("status server shutdown failed")
	}
}
