// Package router maintains live transport-backed connections on the client
// side, aggregates their tool catalogs and resolves an incoming call name to
// the owning connection.
//
// Tool names are unique per connection but may collide across connections.
// Resolution is first-match in registration order among connected sources,
// trading collision safety for simplicity. Callers treat cross-connection
// name collision as a configuration hazard, not a protocol error; no silent
// namespacing is applied.
package router
