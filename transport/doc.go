// Package transport provides the uniform send/close contract a call envelope
// travels over, plus the three required variants:
//
//   - Direct: a synchronous in-process hand-off to a server.Server
//   - SSE: a remote streaming endpoint with endpoint-discovery handshake
//   - Stub: a simulated stand-in wrapping a local function
//
// A Transport must be started before Send and is unusable after Close.
// Close is safe to call multiple times. Transports never self-reconnect;
// reconnection is a caller-level concern (the SSE variant exposes its
// last-known endpoint address for that purpose).
package transport
