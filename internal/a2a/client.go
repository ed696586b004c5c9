package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

var _ executor.Invoker = (*Client)(nil)

// Client invokes an agent over the wire using the Request/Response envelope
// in this package. It implements executor.Invoker, so an *a2a.Client can be
// handed to executor.New directly wherever an agent's registry Metadata
// holds its base URL under ClientOptions.EndpointMetadataKey.
type Client struct {
	httpClient     *http.Client
	endpointKey    string // registry.AgentRecord.Metadata key naming the agent's base URL
	defaultTimeout time.Duration
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	// HTTPClient is reused across calls; defaults to http.DefaultClient.
	HTTPClient *http.Client
	// EndpointMetadataKey is the AgentRecord.Metadata key that holds the
	// agent's base URL. Defaults to "endpoint".
	EndpointMetadataKey string
	// DefaultTimeout bounds a call when the step carries no deadline of its
	// own. Defaults to 30s.
	DefaultTimeout time.Duration
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.EndpointMetadataKey == "" {
		opts.EndpointMetadataKey = "endpoint"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Client{httpClient: opts.HTTPClient, endpointKey: opts.EndpointMetadataKey, defaultTimeout: opts.DefaultTimeout}
}

// Invoke sends step's resolved input to agent's wire endpoint and decodes
// its Response back into a value.Value, mapping wire failures onto the
// errs taxonomy (spec §7).
func (c *Client) Invoke(ctx context.Context, agent *types.AgentRecord, step *types.Step, input value.Value) (value.Value, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}

	base, ok := agent.Metadata[c.endpointKey]
	if !ok || base == "" {
		return value.Nil, errs.New(errs.KindInvocation, step.ID, fmt.Sprintf("agent %q has no %s metadata", agent.ID, c.endpointKey), nil)
	}

	raw, err := json.Marshal(input.ToGo())
	if err != nil {
		return value.Nil, errs.New(errs.KindInvocation, step.ID, "failed to encode step input", err)
	}

	req := Request{
		TaskID:     step.ID,
		StepID:     step.ID,
		Capability: step.AgentType,
		Input:      raw,
		TimeoutMS:  c.defaultTimeout.Milliseconds(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return value.Nil, errs.New(errs.KindInvocation, step.ID, "failed to encode request envelope", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(body))
	if err != nil {
		return value.Nil, errs.New(errs.KindInvocation, step.ID, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return value.Nil, errs.New(errs.KindInvocation, step.ID, fmt.Sprintf("agent %q unreachable", agent.ID), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return value.Nil, errs.New(errs.KindInvocation, step.ID, "failed to read response", err)
	}
	if resp.StatusCode >= 500 {
		return value.Nil, errs.New(errs.KindInvocation, step.ID, fmt.Sprintf("agent %q returned %d", agent.ID, resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return value.Nil, errs.New(errs.KindValidation, step.ID, fmt.Sprintf("agent %q rejected request: %d", agent.ID, resp.StatusCode), nil)
	}

	var envelope Response
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return value.Nil, errs.New(errs.KindInvocation, step.ID, "failed to decode response envelope", err)
	}
	if envelope.State == StateFailed {
		msg := "agent reported failure"
		if envelope.Error != nil {
			msg = envelope.Error.Message
		}
		return value.Nil, errs.New(errs.KindInvocation, step.ID, msg, nil)
	}

	var out any
	if len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, &out); err != nil {
			return value.Nil, errs.New(errs.KindInvocation, step.ID, "failed to decode step result", err)
		}
	}
	return value.FromAny(out), nil
}
