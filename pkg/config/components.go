package config

import (
	"context"
	"fmt"

	"github.com/marmos91/scalebridge/internal/logger"
	"github.com/marmos91/scalebridge/pkg/discovery"
	"github.com/marmos91/scalebridge/pkg/stability"
	"github.com/marmos91/scalebridge/pkg/storage"
	"github.com/marmos91/scalebridge/pkg/storage/repository"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/marmos91/scalebridge/pkg/transport"
)

// TransportConfig converts the loaded configuration into the transport
// package's config type.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Host:           c.Transport.Host,
		Port:           c.Transport.Port,
		DialTimeout:    c.Transport.DialTimeout,
		ReadBufferSize: int(c.Transport.ReadBufferSize),
		BackoffBase:    c.Transport.BackoffBase,
		BackoffCap:     c.Transport.BackoffCap,
	}
}

// StabilityConfig converts the loaded configuration into the stability
// monitor's config type.
func (c *Config) StabilityConfig() stability.Config {
	return stability.Config{
		SampleBufferSize:      c.Stability.SampleBufferSize,
		AnalysisInterval:      c.Stability.AnalysisInterval,
		MinSamplesForAnalysis: c.Stability.MinSamplesForAnalysis,
		StabilityThreshold:    c.Stability.StabilityThreshold,
		DropoutThreshold:      c.Stability.DropoutThreshold,
		AllowUnknownSignals:   c.Stability.AllowUnknownSignals,
	}
}

// DiscoveryConfig converts the loaded configuration into the discovery
// engine's config type.
func (c *Config) DiscoveryConfig() discovery.Config {
	return discovery.Config{
		DeviceID:                 c.Device.ID,
		MinimumFramesForAnalysis: c.Discovery.MinimumFramesForAnalysis,
		BaselineCaptureTimeout:   c.Discovery.BaselineCaptureTimeout,
		MaxBufferedFrames:        c.Discovery.MaxBufferedFrames,
		ConfidenceThreshold:      c.Discovery.ConfidenceThreshold,
		TestFrameLimit:           c.Discovery.TestFrameLimit,
		SaveTemplate:             c.Discovery.SaveTemplates,
	}
}

// CreateTransport builds the converter transport client.
func CreateTransport(cfg *Config) *transport.Client {
	return transport.New(cfg.TransportConfig())
}

// CreateMonitor builds the signal stability monitor.
func CreateMonitor(cfg *Config) *stability.Monitor {
	return stability.NewMonitor(cfg.StabilityConfig())
}

// CreateTemplateStore opens the template database and optionally wraps it in
// the read-through cache.
func CreateTemplateStore(cfg *Config) (templatestore.Store, error) {
	inner, err := templatestore.New(&cfg.Templates.Database)
	if err != nil {
		return nil, fmt.Errorf("open template store: %w", err)
	}
	if cfg.Templates.Cached {
		return templatestore.NewCached(inner), nil
	}
	return inner, nil
}

// CreateRouter builds the storage router over the enabled backends and
// connects each of them. A backend that fails to connect is still registered
// so it can recover later; the router skips it while it is unhealthy.
func CreateRouter(ctx context.Context, cfg *Config) (*storage.Router, error) {
	var repos []storage.Repository

	if cfg.Storage.Relational.Enabled {
		repos = append(repos, repository.NewRelational("relational", repository.RelationalConfig{
			Driver:    cfg.Storage.Relational.Driver,
			Path:      cfg.Storage.Relational.Path,
			DSN:       cfg.Storage.Relational.DSN,
			BatchSize: cfg.Storage.Relational.BatchSize,
		}))
	}
	if cfg.Storage.TimeSeries.Enabled {
		repos = append(repos, repository.NewTimeSeries("time_series", repository.TimeSeriesConfig{
			Path:      cfg.Storage.TimeSeries.Path,
			Retention: cfg.Storage.TimeSeries.Retention,
		}))
	}
	if cfg.Storage.Archive.Enabled {
		repos = append(repos, repository.NewArchive("archive", repository.ArchiveConfig{
			Bucket:   cfg.Storage.Archive.Bucket,
			Region:   cfg.Storage.Archive.Region,
			Endpoint: cfg.Storage.Archive.Endpoint,
			Prefix:   cfg.Storage.Archive.Prefix,
		}))
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("no storage backends enabled")
	}

	for _, repo := range repos {
		if err := repo.Connect(ctx); err != nil {
			logger.Warn("storage backend failed to connect",
				logger.Backend(repo.Name()),
				logger.Err(err),
			)
		}
	}

	return storage.NewRouter(repos, nil), nil
}
