// Package module implements the watch module
package module

import (
	"printguard/internal/core/detection"
	"printguard/internal/modkit"
	"printguard/internal/platform/net/http/bind"
	"printguard/internal/services/watch/domain"
	"printguard/internal/services/watch/service"
)

// Ports exposed by the watch module
type Ports struct {
	Runner domain.RunnerPort
	Status domain.StatusPort
}

// Module implements modkit.Module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs a new watch module
func New(deps modkit.Deps, overrides Options, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("watch"),
	}, opts...)...)

	// Basic guardrails against incorrect wiring
	ports, ok := b.Ports.(domain.Ports)
	if !ok {
		panic("watch module: expected WithPorts(watch/domain.Ports)")
	}
	if ports.Frames == nil || ports.Detect == nil || ports.Alerts == nil || ports.Printer == nil {
		panic("watch module: Ports missing Frames, Detect, Alerts, or Printer")
	}

	// Merge config + overrides
	cfg := FromConfig(deps.Cfg)
	if overrides.Interval != 0 {
		cfg.Interval = overrides.Interval
	}
	if overrides.ConfirmationCount != 0 {
		cfg.ConfirmationCount = overrides.ConfirmationCount
	}
	if overrides.MissTolerance != 0 {
		cfg.MissTolerance = overrides.MissTolerance
	}
	if overrides.ClearCount != 0 {
		cfg.ClearCount = overrides.ClearCount
	}
	if overrides.AlertCooldown != 0 {
		cfg.AlertCooldown = overrides.AlertCooldown
	}
	if overrides.ObjectnessThreshold != 0 {
		cfg.ObjectnessThreshold = overrides.ObjectnessThreshold
	}
	if overrides.ClassProbThreshold != 0 {
		cfg.ClassProbThreshold = overrides.ClassProbThreshold
	}
	if overrides.LabelsPath != "" {
		cfg.LabelsPath = overrides.LabelsPath
	}
	if overrides.ReadyFile != "" {
		cfg.ReadyFile = overrides.ReadyFile
	}

	if err := bind.Struct(cfg); err != nil {
		panic(err)
	}

	labels, err := detection.LoadLabels(cfg.LabelsPath)
	if err != nil {
		panic(err)
	}

	svc, err := service.New(cfg.serviceConfig(), labels, ports)
	if err != nil {
		panic(err)
	}

	m := &Module{deps: deps}
	m.ports = Ports{
		Runner: svc,
		Status: svc,
	}
	return m
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return "watch" }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }
