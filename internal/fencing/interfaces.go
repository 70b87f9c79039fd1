package fencing

import "context"

// ComputeProvider is the cloud platform's node-management API.
//
// Errors returned by Connect should carry the shared error code
// auth_failed when credentials are rejected; any other error is treated as a
// connectivity failure.
type ComputeProvider interface {
	Connect(ctx context.Context, creds Credentials) (Session, error)
	ListNodes(ctx context.Context, session Session) ([]Node, error)
	HardReboot(ctx context.Context, session Session, node Node) (string, error)
}
