// Package auth issues credentials and makes authorisation decisions.
//
// Broker side:
//   - TokenIssuer mints HS256 JWTs used as MQTT passwords. The "acl" claim
//     scopes a device to subscribe-only access under user/{id}/#, while the
//     backend token may publish and subscribe everywhere.
//   - AccessControl answers the broker's ACL hook and authenticates its
//     webhooks with a shared secret compared in constant time.
//
// API side:
//   - Users authenticate with Argon2id-hashed passwords and receive short
//     lived access tokens carrying their role (user or admin).
//   - Directory resolves user IDs through a ristretto cache so broker
//     webhook storms do not turn into one query per event.
package auth
