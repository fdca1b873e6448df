package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/harbz07/sanctuary-mythology/internal/config"
	"github.com/harbz07/sanctuary-mythology/internal/eventbridge"
	"github.com/harbz07/sanctuary-mythology/internal/logbook"
	"github.com/harbz07/sanctuary-mythology/internal/logging"
	"github.com/harbz07/sanctuary-mythology/internal/lore"
	"github.com/harbz07/sanctuary-mythology/internal/mythos"
	"github.com/harbz07/sanctuary-mythology/internal/storage"
)

// runtime bundles everything a subcommand needs.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	journal *logbook.Logbook
	bridge  eventbridge.Settings
	router  *eventbridge.Router
	engine  *mythos.Engine
}

func openRuntime(ctx context.Context) (*runtime, error) {
	if err := config.InitMythosDir(config.ResolveMythosDir(projectDir)); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", config.MythosDir, err)
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}

	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(logLevel))}
	if verbose {
		logOpts = append(logOpts, logging.WithMirror(os.Stderr))
	}
	logger, err := logging.New(cfg.LogsDir(), logOpts...)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}

	rt.journal, err = logbook.New(cfg.JournalPath())
	if err != nil {
		rt.Close()
		return nil, err
	}

	genOpts := []lore.Option{lore.WithSeed(cfg.LoreSeed())}
	if path := cfg.LorePoolsPath(); path != "" {
		pools, err := lore.LoadPools(path)
		if err != nil {
			rt.Close()
			return nil, err
		}
		genOpts = append(genOpts, lore.WithPools(pools))
	}
	generator, err := lore.NewGenerator(genOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	backend, err := storage.Open(cfg.StorageBackend(), cfg.StoragePath())
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.bridge = eventbridge.SettingsFromConfig(cfg)
	rt.router = eventbridge.NewRouter(append(rt.bridge.RouterOptions(), eventbridge.RouterWithLogger(logger))...)
	rt.engine, err = mythos.New(ctx, backend,
		mythos.WithGenerator(generator),
		mythos.WithLogger(logger.Logger),
		mythos.WithJournal(rt.journal),
		mythos.WithWeightPolicy(cfg.WeightPolicy()),
		mythos.WithObserver(rt.router),
	)
	if err != nil {
		_ = backend.Close()
		rt.Close()
		return nil, err
	}
	logger.Debug("runtime ready", "backend", cfg.StorageBackend(), "path", cfg.StoragePath())
	return rt, nil
}

// Close releases the engine backend and the log file.
func (rt *runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.engine != nil {
		errs = append(errs, rt.engine.Close())
	}
	errs = append(errs, rt.logger.Close())
	return errors.Join(errs...)
}
