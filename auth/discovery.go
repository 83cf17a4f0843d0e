package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Resolves entities to server metadata, via a [ProtocolClient]. Does not retry.
type Discoverer struct {
	Client ProtocolClient
	Logger *slog.Logger
}

// Returns server metadata for the entity. Fails with [ErrDiscoveryFailure] if the entity
// could not be resolved, or if the metadata is missing the endpoints needed for auth.
func (d *Discoverer) Discover(ctx context.Context, entity string) (*ServerMetadata, error) {
	ctx, span := tracer.Start(ctx, "Discover")
	defer span.End()
	span.SetAttributes(attribute.String("entity", entity))

	start := time.Now()
	meta, err := d.discover(ctx, entity)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	discoveryDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return meta, err
}

func (d *Discoverer) discover(ctx context.Context, entity string) (*ServerMetadata, error) {
	meta, err := d.Client.DiscoverServerMetadata(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDiscoveryFailure, entity, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s: no server metadata", ErrDiscoveryFailure, entity)
	}
	server := meta.Primary()
	if server == nil {
		return nil, fmt.Errorf("%w: %s: no servers listed", ErrDiscoveryFailure, entity)
	}
	for _, k := range []string{"oauth_auth", "oauth_token"} {
		if server.URLs[k] == "" {
			return nil, fmt.Errorf("%w: %s: server is missing %s endpoint", ErrDiscoveryFailure, entity, k)
		}
	}
	if meta.Entity == "" {
		meta.Entity = entity
	}
	d.logger().Debug("discovered tent server", "entity", entity, "servers", len(meta.Servers), "version", server.Version)
	return meta, nil
}

func (d *Discoverer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
