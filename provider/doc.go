// Package provider defines the upstream model capability contract: a
// synchronous Generate over normalized messages with unified tool-call
// structures, so the orchestration layer never branches per vendor. The
// anthropic and openai subpackages adapt the official SDKs to it; Mock is
// the in-memory double used by tests and examples.
package provider
