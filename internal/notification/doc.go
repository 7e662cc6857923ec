// Package notification stores notifications and fans them out to their
// recipients.
//
// A send creates one Message, then for every recipient in parallel:
//  1. a Delivery record
//  2. an MQTT publish of {msg_id, title, body} on "user/{id}/" at QoS 1
//  3. a push to the recipient's registered devices
//
// Steps 2 and 3 are best effort. The broker client does not wait for
// acknowledgements, so a send never blocks on the broker.
package notification
