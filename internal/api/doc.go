// Package api provides the HTTP REST API and WebSocket server.
//
// It serves two audiences. The broker calls the webhook and ACL hooks under
// /api/v1/emqx. Users and operators authenticate with a Bearer access token
// and send notifications, read their inbox, obtain MQTT credentials,
// register push tokens and watch device presence live over /api/v1/ws.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
