// Package a2a defines the wire envelope the Executor's Invoker (Client) uses
// to invoke an agent and interpret its reply (spec §4.1/§6). Field names use
// camelCase JSON tags so an agent implemented in another language can decode
// requests without a generated client.
//
//nolint:tagliatelle // envelope follows the agent-to-agent wire convention, not Go idiom
package a2a

import "encoding/json"

// Request is sent to an agent for one step invocation.
type Request struct {
	// TaskID is for the agent's own logging. Client fills it with the step
	// id, since types.Step carries no task id.
	TaskID string `json:"taskId"`
	// StepID identifies the step within the workflow.
	StepID string `json:"stepId"`
	// Capability is the capability the agent was selected for.
	Capability string `json:"capability"`
	// Input is the resolved step input (spec §4.3.2).
	Input json.RawMessage `json:"input"`
	// Metadata carries caller-supplied passthrough metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
	// TimeoutMS bounds how long the agent may take to reply, in
	// milliseconds. Zero means the caller's default applies.
	TimeoutMS int64 `json:"timeoutMs,omitempty"`
}

// Response is an agent's reply to a Request.
type Response struct {
	// StepID echoes the request's StepID for correlation.
	StepID string `json:"stepId"`
	// State is one of "completed" or "failed".
	State string `json:"state"`
	// Result is the step's output when State == "completed".
	Result json.RawMessage `json:"result,omitempty"`
	// Error describes the failure when State == "failed".
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the structured failure an agent reports back. Client turns
// any failed Response into an errs.KindInvocation error carrying Message;
// Code and Retryable are not consulted.
type ErrorDetail struct {
	// Code is a stable machine-readable failure code (e.g. "timeout",
	// "unavailable", "invalid_input").
	Code string `json:"code"`
	// Message is a human-readable, user-safe description.
	Message string `json:"message"`
	// Retryable tells the caller whether retrying the same request might
	// succeed.
	Retryable bool `json:"retryable"`
}

const (
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Card is the capability-discovery document an agent publishes so the
// registry can index it without out-of-band configuration (spec §4.2).
type Card struct {
	// AgentID uniquely identifies the agent within the registry.
	AgentID string `json:"agentId"`
	// Name is a human-readable label.
	Name string `json:"name"`
	// Capabilities lists the capability strings this agent can serve.
	Capabilities []string `json:"capabilities"`
	// CostPerCall is the agent's self-reported average cost unit, used by
	// the Selector's cost factor (spec §4.2.1).
	CostPerCall float64 `json:"costPerCall"`
	// MaxConcurrent bounds in-flight invocations the agent accepts; the
	// Selector's load factor treats this as the denominator.
	MaxConcurrent int `json:"maxConcurrent"`
}
