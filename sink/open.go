package sink

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/deficit"
)

// Open builds the document sink named by cfg. The returned close func is
// never nil.
func Open(ctx context.Context, cfg config.SinkConfig, log logrus.FieldLogger) (deficit.DocumentSink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case config.SinkSpool:
		s, err := NewSpool(cfg.SpoolDir, log)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case config.SinkGCS:
		client, err := NewGCSClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create storage client: %w", err)
		}
		g := NewGCS(client, cfg.Bucket, cfg.Prefix, log)
		return g, g.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown sink kind %q", cfg.Kind)
}
