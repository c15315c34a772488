// Package server implements the protocol server: the canonical registry of
// callable tools, readable resources and prompt templates, and the single
// HandleMessage entry point that multiplexes the six protocol methods.
//
// Tool handlers run inside a failure boundary: a handler error or panic is
// converted to error content on the tool result and never crosses the
// transport as a raised fault. Tool arguments are validated against the
// registered input schema before the handler runs.
//
// Handlers may close over server-scoped auxiliary state (for example a
// simulated infrastructure inventory); that state is owned by the server
// instance and only observable through tool call results.
package server
