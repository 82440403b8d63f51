package twinstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/c360/twinbridge/errors"
)

// GetTwin fetches a twin.
func (c *Client) GetTwin(ctx context.Context, thingID string) (twin Twin, err error) {
	ctx, span := startSpan(ctx, "GetTwin", attribute.String("thing.id", thingID))
	defer func() { endSpan(span, err) }()

	_, err = c.do(ctx, request{
		operation: "GetTwin",
		method:    http.MethodGet,
		path:      thingPath(thingID),
		out:       &twin,
	})
	if err != nil {
		return Twin{}, wrap(err, "GetTwin", "get twin "+thingID)
	}
	return twin, nil
}

// UpsertTwin merges twin into the stored document, creating it only when
// the update reports it missing. Features and attributes absent from twin
// are left as stored. A missing twin on create is fatal. If a concurrent
// writer creates the twin first, the update is applied once more.
func (c *Client) UpsertTwin(ctx context.Context, twin Twin) (result Twin, err error) {
	ctx, span := startSpan(ctx, "UpsertTwin", attribute.String("thing.id", twin.ThingID))
	defer func() { endSpan(span, err) }()

	result, err = c.mergeThing(ctx, "UpsertTwin", twin)
	if err == nil {
		return result, nil
	}
	if !stderrors.Is(err, ErrNotFound) {
		return Twin{}, wrap(err, "UpsertTwin", "update twin "+twin.ThingID)
	}

	result, err = c.createThing(ctx, "UpsertTwin", twin)
	switch {
	case err == nil:
		c.logger.Debug("Created twin", "thing_id", twin.ThingID)
		return result, nil
	case stderrors.Is(err, ErrAlreadyExists):
		result, err = c.mergeThing(ctx, "UpsertTwin", twin)
		if err != nil {
			return Twin{}, wrap(err, "UpsertTwin", "update twin after concurrent create "+twin.ThingID)
		}
		return result, nil
	case stderrors.Is(err, ErrNotFound):
		return Twin{}, errors.WrapFatal(err, "twinstore", "UpsertTwin", "create twin "+twin.ThingID)
	default:
		return Twin{}, wrap(err, "UpsertTwin", "create twin "+twin.ThingID)
	}
}

// mergeThing merge-patches an existing twin. A missing twin is ErrNotFound.
func (c *Client) mergeThing(ctx context.Context, operation string, twin Twin) (Twin, error) {
	status, err := c.do(ctx, request{
		operation:   operation,
		method:      http.MethodPatch,
		path:        thingPath(twin.ThingID),
		header:      ifMatchAny,
		body:        twin,
		contentType: mergePatchJSON,
	})
	switch {
	case err == nil:
		return twin, nil
	case status == http.StatusPreconditionFailed:
		return Twin{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return Twin{}, err
	}
}

// createThing writes a new twin. An existing twin is ErrAlreadyExists.
func (c *Client) createThing(ctx context.Context, operation string, twin Twin) (Twin, error) {
	var out Twin
	status, err := c.do(ctx, request{
		operation: operation,
		method:    http.MethodPut,
		path:      thingPath(twin.ThingID),
		header:    ifNoneMatchAny,
		body:      twin,
		out:       &out,
	})
	switch {
	case err == nil:
	case status == http.StatusPreconditionFailed, status == http.StatusConflict:
		return Twin{}, fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	default:
		return Twin{}, err
	}

	// 204 carries no body
	if out.ThingID == "" {
		return twin, nil
	}
	return out, nil
}

// UpdateFeature replaces the properties of one feature.
func (c *Client) UpdateFeature(ctx context.Context, thingID, featureID string, properties map[string]any) (err error) {
	ctx, span := startSpan(ctx, "UpdateFeature",
		attribute.String("thing.id", thingID),
		attribute.String("feature.id", featureID))
	defer func() { endSpan(span, err) }()

	_, err = c.do(ctx, request{
		operation: "UpdateFeature",
		method:    http.MethodPut,
		path:      featurePath(thingID, featureID),
		body:      Feature{Properties: properties},
	})
	return wrap(err, "UpdateFeature", "update feature "+featureID+" of "+thingID)
}

// GetFeature fetches one feature. ErrNotFound means the twin or the
// feature is absent.
func (c *Client) GetFeature(ctx context.Context, thingID, featureID string) (feature Feature, err error) {
	ctx, span := startSpan(ctx, "GetFeature",
		attribute.String("thing.id", thingID),
		attribute.String("feature.id", featureID))
	defer func() { endSpan(span, err) }()

	_, err = c.do(ctx, request{
		operation: "GetFeature",
		method:    http.MethodGet,
		path:      featurePath(thingID, featureID),
		out:       &feature,
	})
	if err != nil {
		return Feature{}, wrap(err, "GetFeature", "get feature "+featureID+" of "+thingID)
	}
	if feature.Properties == nil {
		feature.Properties = map[string]any{}
	}
	return feature, nil
}

// SendMessage posts payload to the inbox of thingID under subject.
func (c *Client) SendMessage(ctx context.Context, thingID, subject string, payload any) (err error) {
	ctx, span := startSpan(ctx, "SendMessage",
		attribute.String("thing.id", thingID),
		attribute.String("message.subject", subject))
	defer func() { endSpan(span, err) }()

	timeout := int(c.cfg.MessageTimeout.Seconds())
	_, err = c.do(ctx, request{
		operation: "SendMessage",
		method:    http.MethodPost,
		path:      thingPath(thingID) + "/inbox/messages/" + url.PathEscape(subject),
		query:     url.Values{"timeout": {strconv.Itoa(timeout)}},
		body:      payload,
	})
	return wrap(err, "SendMessage", "send "+subject+" to "+thingID)
}

type searchPage struct {
	Items  []Twin `json:"items"`
	Cursor string `json:"cursor,omitempty"`
}

// SearchThings lists the twins of the configured namespace matching
// filter, following result cursors. An empty filter matches all twins.
func (c *Client) SearchThings(ctx context.Context, filter string) (twins []Twin, err error) {
	ctx, span := startSpan(ctx, "SearchThings", attribute.String("search.filter", filter))
	defer func() { endSpan(span, err) }()

	cursor := ""
	for {
		query := url.Values{"namespaces": {c.cfg.Namespace}}
		if filter != "" {
			query.Set("filter", filter)
		}
		option := "size(200)"
		if cursor != "" {
			option += ",cursor(" + cursor + ")"
		}
		query.Set("option", option)

		var page searchPage
		if _, err = c.do(ctx, request{
			operation: "SearchThings",
			method:    http.MethodGet,
			path:      "/search/things",
			query:     query,
			out:       &page,
		}); err != nil {
			return nil, wrap(err, "SearchThings", "search things")
		}

		twins = append(twins, page.Items...)
		if page.Cursor == "" || len(page.Items) == 0 {
			return twins, nil
		}
		cursor = page.Cursor
	}
}
