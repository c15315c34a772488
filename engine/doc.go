// Package engine drives multi-turn orchestration: it sends conversation
// history to a provider, executes requested tool calls concurrently
// against a tool source, folds the results back into history and repeats
// until the provider produces a final text or the turn bound is reached.
// Provider calls are wrapped in a rate-limit-aware retry policy, and a
// builtin dispatch tool fans work out to sub-agents with a join barrier.
package engine
