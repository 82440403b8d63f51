package twinstore

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// EnsureGridTwin makes sure the twin of gridID exists, creating it with the
// shared policy and default features when absent. A twin that already
// exists, or is created concurrently, is left untouched. Concurrent calls
// for the same grid share one round trip.
func (c *Client) EnsureGridTwin(ctx context.Context, gridID string) (err error) {
	thingID := ThingID(c.cfg.Namespace, gridID)
	ctx, span := startSpan(ctx, "EnsureGridTwin", attribute.String("thing.id", thingID))
	defer func() { endSpan(span, err) }()

	_, err, shared := c.ensure.Do(thingID, func() (any, error) {
		return nil, c.ensureGridTwin(ctx, gridID, thingID)
	})
	span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	return err
}

func (c *Client) ensureGridTwin(ctx context.Context, gridID, thingID string) error {
	_, err := c.GetTwin(ctx, thingID)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, ErrNotFound) {
		return wrap(err, "EnsureGridTwin", "look up twin "+thingID)
	}

	if err := c.EnsurePolicy(ctx); err != nil {
		return wrap(err, "EnsureGridTwin", "ensure policy for "+thingID)
	}

	twin := NewGridTwin(c.cfg.Namespace, gridID, c.now())
	_, err = c.createThing(ctx, "EnsureGridTwin", twin)
	switch {
	case err == nil:
		c.logger.Info("Bootstrapped grid twin", "grid_id", gridID, "thing_id", thingID)
		return nil
	case stderrors.Is(err, ErrAlreadyExists):
		return nil
	default:
		return wrap(fmt.Errorf("create twin: %w", err), "EnsureGridTwin", "bootstrap twin "+thingID)
	}
}

