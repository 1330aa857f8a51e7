package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nstogner/devcli/pkg/config"
	"github.com/nstogner/devcli/pkg/models"
	"github.com/nstogner/devcli/pkg/models/gemini"
	"github.com/nstogner/devcli/pkg/models/openai"
	"github.com/nstogner/devcli/pkg/runner"
	"github.com/nstogner/devcli/pkg/sandbox"
	"github.com/nstogner/devcli/pkg/sandbox/docker"
	"github.com/nstogner/devcli/pkg/tools"
	"github.com/nstogner/devcli/pkg/voice"
)

// app is everything an interactive or served session needs.
type app struct {
	cfg      *config.Config
	provider models.ModelProvider
	runner   *runner.Runner
	listener voice.Listener
	speaker  voice.Speaker

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	reg, closeRunner, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { closeRunner(); return nil })

	provider, closeProvider, err := newProvider(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider = provider
	a.closers = append(a.closers, closeProvider)

	r, err := runner.New(provider, newDispatcher(reg), runner.Config{
		ModelName:     cfg.Model,
		Instructions:  cfg.Session.Instructions,
		MaxRounds:     cfg.Session.MaxRounds,
		MaxDuration:   cfg.Session.MaxDuration,
		OracleTimeout: cfg.Session.OracleTimeout,
		RetryAttempts: cfg.Session.RetryAttempts,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = r

	a.listener = &voice.CommandListener{Command: cfg.Voice.ListenCommand}
	if cfg.Voice.Mute {
		a.speaker = voice.Mute{}
	} else {
		a.speaker = voice.NewSpeaker(cfg.Voice.SpeakCommand, cfg.Voice.Rate)
	}

	slog.Info("DevCLI ready", "root", reg.Root(), "provider", cfg.Provider, "model", cfg.Model, "commands", cfg.Command.Backend)
	return a, nil
}

// Close releases the command backend and the model client.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newRegistry builds the tool registry over the configured root and command
// backend. The returned func releases the backend.
func newRegistry(cfg *config.Config) (*tools.Registry, func(), error) {
	root, err := cfg.AbsRoot()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	guard, err := sandbox.NewGuard(root)
	if err != nil {
		return nil, nil, err
	}
	cmdRunner, err := newCommandRunner(cfg, guard.Root())
	if err != nil {
		return nil, nil, err
	}
	closeRunner := func() {
		if err := cmdRunner.Close(); err != nil {
			slog.Error("Failed to close command runner", "error", err)
		}
	}
	reg, err := tools.NewRegistry(sandbox.NewFiles(guard), cmdRunner)
	if err != nil {
		closeRunner()
		return nil, nil, err
	}
	return reg, closeRunner, nil
}

func newDispatcher(reg *tools.Registry) *tools.Dispatcher {
	return tools.NewDispatcher(reg)
}

func newCommandRunner(cfg *config.Config, root string) (sandbox.Runner, error) {
	switch cfg.Command.Backend {
	case config.BackendDocker:
		r, err := docker.New(cfg.Command.Image, root, cfg.Command.Timeout, cfg.Command.MaxOutput)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize docker backend: %w", err)
		}
		return r, nil
	case config.BackendHost, "":
		return &sandbox.Shell{
			Dir:       root,
			Timeout:   cfg.Command.Timeout,
			MaxOutput: cfg.Command.MaxOutput,
		}, nil
	default:
		return nil, fmt.Errorf("unknown command backend %q", cfg.Command.Backend)
	}
}

// newProvider creates the configured model client.
func newProvider(ctx context.Context, cfg *config.Config) (models.ModelProvider, func() error, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		m, err := gemini.New(ctx, cfg.APIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Gemini model: %w", err)
		}
		return m, m.Close, nil
	case config.ProviderOpenAI, "":
		c, err := openai.New(cfg.BaseURL, cfg.APIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize model client: %w", err)
		}
		return c, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
