// Package credential resolves provider API keys with a fixed precedence
// chain: explicit active profile, well-known environment variables, saved
// keyring profiles, then a heuristic environment scan. A miss is reported
// as absence, never as an error; the caller that actually needs the key
// decides when absence is fatal.
package credential
