// Package emqx is a small client for the EMQX v5 management REST API and
// the presence reconciliation job built on it.
//
// Only GET /api/v5/clients is used. Requests authenticate with the API key
// and secret as HTTP basic auth.
package emqx
