package rpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/budget"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
)

// Client is the high-level interface for platform calls.
// Every call goes through the Coordinator, so each attempt is attributed to
// exactly one credential. This is what application layers should use.
type Client struct {
	transport   provider.Transport
	coordinator *budget.Coordinator
}

// NewClient creates a new client.
func NewClient(transport provider.Transport, coordinator *budget.Coordinator) *Client {
	return &Client{
		transport:   transport,
		coordinator: coordinator,
	}
}

// SubmitGroup sends ops as one grouped request. Grouped writes are never
// retried blindly; the caller decides how to recover.
func (c *Client) SubmitGroup(ctx context.Context, ops []domain.Operation) ([]*domain.RawResult, error) {
	start := time.Now()
	res, err := c.coordinator.Execute(ctx, NewOperation("submit_group", func(ctx context.Context, cred domain.Credential) (any, error) {
		return c.transport.SubmitGroup(ctx, cred, ops)
	}))

	mode := "pairs"
	if len(ops) <= 2 {
		mode = "atomic"
	}
	metrics.GroupLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	metrics.OperationsSubmitted.Add(float64(len(ops)))

	if err != nil {
		return nil, err
	}
	return res.([]*domain.RawResult), nil
}

// ListParents lists every parent under the group.
func (c *Client) ListParents(ctx context.Context, groupID string) ([]domain.Node, error) {
	res, err := c.coordinator.Execute(ctx, NewIdempotentOperation("list_parents", func(ctx context.Context, cred domain.Credential) (any, error) {
		return c.transport.ListParents(ctx, cred, groupID)
	}))
	if err != nil {
		return nil, err
	}
	return res.([]domain.Node), nil
}

// ListChildren lists every child under the group.
func (c *Client) ListChildren(ctx context.Context, groupID string) ([]domain.Node, error) {
	res, err := c.coordinator.Execute(ctx, NewIdempotentOperation("list_children", func(ctx context.Context, cred domain.Credential) (any, error) {
		return c.transport.ListChildren(ctx, cred, groupID)
	}))
	if err != nil {
		return nil, err
	}
	return res.([]domain.Node), nil
}

// Delete removes a remote object. Deletes are idempotent on the platform.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.coordinator.Execute(ctx, NewIdempotentOperation("delete", func(ctx context.Context, cred domain.Credential) (any, error) {
		return nil, c.transport.Delete(ctx, cred, id)
	}))
	return err
}

// GetPool returns the credential pool.
func (c *Client) GetPool() *budget.Pool {
	return c.coordinator.Pool()
}

// PrintPoolDashboard returns a formatted credential dashboard string.
func (c *Client) PrintPoolDashboard() string {
	var sb strings.Builder

	sb.WriteString("\n=== Credential Pool ===\n\n")
	for _, cred := range c.coordinator.Pool().Snapshot() {
		status := "ok"
		if cred.Exhausted {
			status = "exhausted"
		} else if cred.AtQuota() {
			status = "at quota"
		}
		sb.WriteString(fmt.Sprintf("Credential: %s (priority %d)\n", cred.ID, cred.Priority))
		sb.WriteString(fmt.Sprintf("  Status: %s\n", status))
		sb.WriteString(fmt.Sprintf("  Usage: %d/%d (%.1f%%)\n", cred.CallsUsed, cred.HourlyQuota, cred.UsagePercentage()))
		if !cred.ExhaustedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("  Exhausted At: %s\n", cred.ExhaustedAt.Format(time.RFC3339)))
		}
		sb.WriteString("\n")
	}
	if c.coordinator.Pool().SharedLimitSuspected() {
		sb.WriteString("WARNING: credentials appear to share a limit\n")
	}

	return sb.String()
}
