// Package protocol defines the wire-agnostic call/result envelope and the
// catalog definition types (tools, resources, prompts) shared by the server,
// the transports and the router.
//
// The envelope is JSON-RPC shaped: a Request carries a version tag, a method
// from a closed set, optional params and a correlation id; a Response carries
// the id and exactly one of a result payload or an error object. Dispatch is
// driven by the typed Method value, never by reflection.
package protocol
