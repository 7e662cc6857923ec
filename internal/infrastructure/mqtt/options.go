package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout bounds one connection attempt when the
	// configuration leaves it unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout bounds the background wait for a publish acknowledgement.
	defaultAckTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending work on disconnect (ms).
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// buildTLSConfig loads the broker CA bundle when one is configured.
func buildTLSConfig(b config.MQTTBrokerConfig) (*tls.Config, error) {
	if !b.TLS {
		return nil, nil //nolint:nilnil // TLS disabled
	}

	tlsCfg := &tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: b.Insecure, //nolint:gosec // opt-in for self-signed development brokers
	}
	if b.CAFile != "" {
		pem, err := os.ReadFile(b.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", b.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// buildClientOptions creates paho options for one connection attempt.
//
// Paho's own reconnect machinery is disabled: the initial loop and the
// single reconnect after a lost connection are driven by Client.
func (c *Client) buildClientOptions(host string, port int, connectTimeout time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if c.tlsConfig != nil {
		scheme = "ssl"
		opts.SetTLSConfig(c.tlsConfig)
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, host, port))
	opts.SetClientID(c.cfg.Broker.ClientID)

	if c.creds != nil {
		opts.SetCredentialsProvider(c.creds.Credentials)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(c.keepAlive())

	opts.SetWill(Topics{}.ServiceStatus(), statusPayload(c.cfg.Broker.ClientID, "offline", "unexpected_disconnect"), 1, true)

	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)

	return opts
}

func (c *Client) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeout > 0 {
		return time.Duration(c.cfg.ConnectTimeout) * time.Second
	}
	return defaultConnectTimeout
}

func (c *Client) keepAlive() time.Duration {
	if c.cfg.KeepAlive > 0 {
		return time.Duration(c.cfg.KeepAlive) * time.Second
	}
	return defaultKeepAlive
}

// statusPayload renders the retained service status message.
func statusPayload(clientID, status, reason string) string {
	payload := fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q`,
		status, clientID, time.Now().UTC().Format(time.RFC3339))
	if reason != "" {
		payload += fmt.Sprintf(`,"reason":%q`, reason)
	}
	return payload + "}"
}
