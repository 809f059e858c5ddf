// Package boot assembles an engine from a Config. Both binaries use it so
// the server and the CLI always open the same store the same way.
package boot

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/sink"
	"github.com/warp/deficit-engine/store"
)

// Seed converts the [engine] section into the first-boot settings seed.
func Seed(c config.EngineConfig) (deficit.SettingsSeed, error) {
	seed := deficit.DefaultSeed()
	if c.ManagerPIN != "" {
		seed.ManagerPIN = c.ManagerPIN
	}
	seed.DueDateGraceDays = c.DueDateGraceDays
	if c.MonthlySalary != "" {
		salary, err := decimal.NewFromString(c.MonthlySalary)
		if err != nil {
			return seed, fmt.Errorf("invalid monthly_salary %q: %w", c.MonthlySalary, err)
		}
		seed.MonthlySalary = salary
	}
	return seed, nil
}

// Runtime is an opened engine and everything it holds open.
type Runtime struct {
	Engine  *deficit.Engine
	Backend *store.Backend

	closeSink func() error
}

// Close releases the sink and the store.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.closeSink != nil {
		errs = append(errs, rt.closeSink())
	}
	if rt.Backend != nil {
		errs = append(errs, rt.Backend.Close())
	}
	return errors.Join(errs...)
}

// Open opens the backend, the sink (when withSink) and the engine.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger, withSink bool) (*Runtime, error) {
	seed, err := Seed(cfg.Engine)
	if err != nil {
		return nil, err
	}

	backend, err := store.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Backend: backend}

	opts := deficit.Options{Logger: log, Seed: &seed, Guard: backend.Guard}
	if withSink {
		docSink, closeSink, err := sink.Open(ctx, cfg.Sink, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		opts.Sink = docSink
		rt.closeSink = closeSink
	}

	engine, err := deficit.New(ctx, backend.Store, opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Engine = engine

	log.WithFields(logrus.Fields{
		"storage": backend.Name,
		"sink":    sinkName(cfg, withSink),
	}).Info("engine ready")
	return rt, nil
}

func sinkName(cfg config.Config, withSink bool) string {
	if !withSink {
		return "none"
	}
	return cfg.Sink.Kind
}
