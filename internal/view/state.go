package view

import "context"

type stateKey struct{}

// WithState attaches request-scoped locals to ctx. Earlier handlers use it to
// pass data to templates; the values are merged into the render locals.
func WithState(ctx context.Context, state map[string]interface{}) context.Context {
	merged := make(map[string]interface{}, len(state))
	for k, v := range State(ctx) {
		merged[k] = v
	}
	for k, v := range state {
		merged[k] = v
	}
	return context.WithValue(ctx, stateKey{}, merged)
}

// State returns the request-scoped locals stored in ctx, or nil.
func State(ctx context.Context) map[string]interface{} {
	state, _ := ctx.Value(stateKey{}).(map[string]interface{})
	return state
}

// mergeLocals copies layers into a new map; later layers win.
func mergeLocals(layers ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
