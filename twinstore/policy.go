package twinstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
)

// GetPolicy fetches a policy.
func (c *Client) GetPolicy(ctx context.Context, policyID string) (policy Policy, err error) {
	ctx, span := startSpan(ctx, "GetPolicy", attribute.String("policy.id", policyID))
	defer func() { endSpan(span, err) }()

	_, err = c.do(ctx, request{
		operation: "GetPolicy",
		method:    http.MethodGet,
		path:      policyPath(policyID),
		out:       &policy,
	})
	if err != nil {
		return Policy{}, wrap(err, "GetPolicy", "get policy "+policyID)
	}
	return policy, nil
}

// PutPolicy creates or replaces a policy.
func (c *Client) PutPolicy(ctx context.Context, policy Policy) (err error) {
	ctx, span := startSpan(ctx, "PutPolicy", attribute.String("policy.id", policy.PolicyID))
	defer func() { endSpan(span, err) }()

	_, err = c.do(ctx, request{
		operation: "PutPolicy",
		method:    http.MethodPut,
		path:      policyPath(policy.PolicyID),
		body:      policy,
	})
	return wrap(err, "PutPolicy", "put policy "+policy.PolicyID)
}

// EnsurePolicy creates the shared grid policy if it does not exist. A policy
// created concurrently by someone else counts as success.
func (c *Client) EnsurePolicy(ctx context.Context) (err error) {
	policyID := PolicyID(c.cfg.Namespace)
	ctx, span := startSpan(ctx, "EnsurePolicy", attribute.String("policy.id", policyID))
	defer func() { endSpan(span, err) }()

	_, err = c.GetPolicy(ctx, policyID)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, ErrNotFound) {
		return err
	}

	status, err := c.do(ctx, request{
		operation: "EnsurePolicy",
		method:    http.MethodPut,
		path:      policyPath(policyID),
		header:    ifNoneMatchAny,
		body:      DefaultPolicy(c.cfg.Namespace, c.cfg.Username),
	})
	switch {
	case err == nil:
		c.logger.Info("Created policy", "policy_id", policyID)
		return nil
	case status == http.StatusPreconditionFailed, status == http.StatusConflict:
		return nil
	default:
		return wrap(fmt.Errorf("create policy: %w", err), "EnsurePolicy", "ensure policy "+policyID)
	}
}
