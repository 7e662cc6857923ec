// Package push delivers notifications to users' mobile and web clients
// through Firebase Cloud Messaging.
//
// The channel is chosen at startup: FCMSender when push is enabled in the
// configuration, NoopSender otherwise. Callers always go through Service,
// which looks up a user's registration tokens, sends, and removes tokens
// FCM reports as unregistered.
package push
