// Package webhook adapts broker client lifecycle events to the Presence
// Store.
//
// Handler serves the broker's HTTP webhook. Every call produces exactly one
// terminal Response:
//
//	{"status":"success"}          200
//	{"error":"Forbidden"}         403  secret header missing or wrong
//	{"error":"Invalid JSON"}      400
//	{"error":"Invalid data"}      400  event, clientid or user_id missing
//	{"error":"Unknown event"}     400
//
// SysListener consumes the same events from the broker's $SYS topics.
package webhook
