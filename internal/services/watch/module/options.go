package module

import (
	"time"

	"printguard/internal/core/consolidate"
	"printguard/internal/core/detection"
	"printguard/internal/platform/config"
	"printguard/internal/services/watch/service"
)

// Options holds configuration settings for the watch module
type Options struct {
	Interval            time.Duration `validate:"required"`
	ConfirmationCount   int           `validate:"min=1"`
	MissTolerance       int           `validate:"min=0"`
	ClearCount          int           `validate:"min=1"`
	AlertCooldown       time.Duration `validate:"min=0"`
	ObjectnessThreshold float64       `validate:"min=0,max=1"`
	ClassProbThreshold  float64       `validate:"min=0,max=1"`
	LabelsPath          string        `validate:"required"`
	ReadyFile           string
}

// FromConfig extracts Options from the given config.Conf
func FromConfig(cfg config.Conf) Options {
	wf := cfg.Prefix("WATCH_")
	return Options{
		Interval:            wf.MayDuration("INTERVAL", 5*time.Second),
		ConfirmationCount:   wf.MayInt("CONFIRMATION_COUNT", 3),
		MissTolerance:       wf.MayInt("MISS_TOLERANCE", 1),
		ClearCount:          wf.MayInt("CLEAR_COUNT", 3),
		AlertCooldown:       wf.MayDuration("ALERT_COOLDOWN", 10*time.Minute),
		ObjectnessThreshold: wf.MayFloat64("OBJECTNESS_THRESHOLD", 0.08),
		ClassProbThreshold:  wf.MayFloat64("CLASS_PROB_THRESHOLD", 0.5),
		LabelsPath:          cfg.Prefix("MODEL_").MayString("LABELS", "labels.txt"),
		ReadyFile:           wf.MayString("READY_FILE", "printguard-ready"),
	}
}

func (o Options) serviceConfig() service.Config {
	return service.Config{
		Interval: o.Interval,
		Thresholds: detection.Thresholds{
			Objectness: float32(o.ObjectnessThreshold),
			ClassProb:  float32(o.ClassProbThreshold),
		},
		Machine: consolidate.Config{
			ConfirmationCount: o.ConfirmationCount,
			MissTolerance:     o.MissTolerance,
			ClearCount:        o.ClearCount,
			AlertCooldown:     o.AlertCooldown,
		},
		ReadyFile: o.ReadyFile,
	}
}
