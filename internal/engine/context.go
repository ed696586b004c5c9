package engine

import "context"

// wfCtxKey stashes the originating WorkflowContext inside the Go context
// handed to an activity, so activity code can recover it when it needs
// workflow-scoped telemetry.
type wfCtxKey struct{}

// activityCtxKey marks a context as originating from an activity
// invocation, distinguishing it from a true workflow context in engines
// (like Temporal) where the two have different determinism rules.
type activityCtxKey struct{}

// WithWorkflowContext returns a child context carrying wf.
func WithWorkflowContext(ctx context.Context, wf WorkflowContext) context.Context {
	return context.WithValue(ctx, wfCtxKey{}, wf)
}

// WithActivityContext marks ctx as an activity-invocation context.
func WithActivityContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, activityCtxKey{}, true)
}

// IsActivityContext reports whether ctx originated from an activity
// invocation.
func IsActivityContext(ctx context.Context) bool {
	v, ok := ctx.Value(activityCtxKey{}).(bool)
	return ok && v
}

// WorkflowContextFromContext recovers the WorkflowContext stashed by
// WithWorkflowContext, or nil if ctx carries none.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	if wf, ok := ctx.Value(wfCtxKey{}).(WorkflowContext); ok {
		return wf
	}
	return nil
}
