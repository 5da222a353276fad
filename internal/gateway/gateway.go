// Package gateway holds the inbound surfaces that feed marking requests to
// the router: the HTTP API, the MCP tool server and the batch reader.
package gateway

import "context"

// Gateway is one inbound surface.
type Gateway interface {
	// Start serves until ctx is canceled or the surface fails. A clean
	// shutdown returns nil.
	Start(ctx context.Context) error

	// Stop drains in-flight marking requests within ctx's deadline.
	Stop(ctx context.Context) error
}
