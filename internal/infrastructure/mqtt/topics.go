package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes of the notification hierarchy.
const (
	// TopicPrefixUser is the root of every per-user namespace.
	TopicPrefixUser = "user"

	// TopicPrefixService carries the service's own status traffic.
	TopicPrefixService = "notify/service"
)

// Topics provides builders for the MQTT topics this service publishes to
// and authorises.
//
//	topics := mqtt.Topics{}
//	topics.UserTopic("usr-1a2b3c4d")     // "user/usr-1a2b3c4d/"
//	topics.UserNamespace("usr-1a2b3c4d") // "user/usr-1a2b3c4d/#"
type Topics struct{}

// UserTopic returns the private delivery topic of a user. The trailing
// slash is part of the topic name devices subscribe to.
func (Topics) UserTopic(userID string) string {
	return fmt.Sprintf("%s/%s/", TopicPrefixUser, userID)
}

// UserNamespace returns the subscription filter covering everything a user
// may receive.
func (Topics) UserNamespace(userID string) string {
	return fmt.Sprintf("%s/%s/#", TopicPrefixUser, userID)
}

// ServiceStatus is the retained online/offline topic used as the LWT.
func (Topics) ServiceStatus() string {
	return TopicPrefixService + "/status"
}

// SysClientEvents is the filter covering the broker's client connect and
// disconnect announcements: $SYS/brokers/{node}/clients/{clientid}/{event}.
func (Topics) SysClientEvents() string {
	return "$SYS/brokers/+/clients/+/+"
}

// InUserNamespace reports whether topic (a name or a filter) lies inside
// the namespace of userID. "user/{id}" itself counts as inside, which
// mirrors how "user/{id}/#" matches its parent level.
func InUserNamespace(userID, topic string) bool {
	if userID == "" || strings.ContainsAny(userID, "/+#") {
		return false
	}
	root := TopicPrefixUser + "/" + userID
	return topic == root || strings.HasPrefix(topic, root+"/")
}

// validateTopic rejects names that cannot be published to.
func validateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
