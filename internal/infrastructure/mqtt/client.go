package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CredentialsProvider supplies the MQTT username and password. It is asked
// before every connection attempt so expired tokens can be replaced.
type CredentialsProvider interface {
	Credentials() (username, password string)
}

// Resolver returns the broker address for the next connection attempt.
type Resolver func() (host string, port int)

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is the process-wide broker connection. One instance is shared by
// every request handler.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored after a successful reconnect.
type Client struct {
	cfg       config.MQTTConfig
	creds     CredentialsProvider
	resolve   Resolver
	logger    Logger
	tlsConfig *tls.Config

	// newClient and sleep are replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
	sleep     func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	client pahomqtt.Client
	state  State
	closed bool

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// pending tracks background acknowledgement waits.
	pending sync.WaitGroup
}

// Option customises a Client before the first connection attempt.
type Option func(*Client)

// WithResolver overrides how the broker address is looked up. By default
// the configuration is re-read on every attempt.
func WithResolver(r Resolver) Option {
	return func(c *Client) { c.resolve = r }
}

// Connect creates the broker client and tries to connect.
//
// Up to cfg.Retry.MaxRetries attempts are made with a fixed delay of
// cfg.Retry.Delay seconds between them; there is no wait after the final
// attempt. When every attempt fails the returned client is still non-nil:
// it stays disconnected, publishes fail with ErrNotConnected, and the error
// wraps ErrConnectionFailed. Callers may log the error and keep serving.
//
// Parameters:
//   - ctx: Cancels the retry loop
//   - cfg: MQTT section of the configuration
//   - creds: Credentials provider consulted before each attempt (may be nil)
//   - logger: Logger for attempts and background failures (may be nil)
//
// Returns:
//   - *Client: Always non-nil
//   - error: nil when connected, otherwise wrapping ErrConnectionFailed
func Connect(ctx context.Context, cfg config.MQTTConfig, creds CredentialsProvider, logger Logger, opts ...Option) (*Client, error) {
	c := newClient(cfg, creds, logger, opts...)

	tlsCfg, err := buildTLSConfig(cfg.Broker)
	if err != nil {
		c.logger.Error("mqtt TLS configuration invalid", "error", err)
		return c, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.tlsConfig = tlsCfg

	return c, c.connectWithRetry(ctx)
}

func newClient(cfg config.MQTTConfig, creds CredentialsProvider, logger Logger, opts ...Option) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{
		cfg:           cfg,
		creds:         creds,
		resolve:       cfg.BrokerAddress,
		logger:        logger,
		newClient:     pahomqtt.NewClient,
		sleep:         sleepContext,
		subscriptions: make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) connectWithRetry(ctx context.Context) error {
	maxAttempts := c.cfg.Retry.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := c.cfg.RetryDelay()
	timeout := c.attemptTimeout()

	c.setState(StateConnecting)

	var lastErr error
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		started := time.Now()
		host, port := c.resolve()
		c.logger.Info("connecting to mqtt broker", "attempt", attempts, "max_attempts", maxAttempts, "host", host, "port", port)

		lastErr = c.dial(host, port, timeout)
		if lastErr == nil {
			c.logger.Info("mqtt broker connected", "host", host, "port", port, "attempt", attempts)
			return nil
		}
		c.logger.Warn("mqtt connection attempt failed", "attempt", attempts, "error", lastErr)

		if attempts == maxAttempts {
			break
		}
		// Each attempt and its wait share one delay slot.
		if err := c.sleep(ctx, delay-time.Since(started)); err != nil {
			lastErr = err
			break
		}
	}

	c.setState(StateDisconnected)
	c.logger.Error("mqtt broker unreachable, continuing without broker", "attempts", attempts, "error", lastErr)
	return fmt.Errorf("%w: after %d attempts: %w", ErrConnectionFailed, attempts, lastErr)
}

// attemptTimeout caps a single initial connection attempt so the whole
// retry loop stays within MaxRetries x RetryDelay.
func (c *Client) attemptTimeout() time.Duration {
	timeout := c.connectTimeout()
	if delay := c.cfg.RetryDelay(); delay > 0 && delay < timeout {
		return delay
	}
	return timeout
}

// dial performs one connection attempt against host:port.
func (c *Client) dial(host string, port int, timeout time.Duration) error {
	cl := c.newClient(c.buildClientOptions(host, port, timeout))

	token := cl.Connect()
	if !token.WaitTimeout(timeout) {
		cl.Disconnect(0)
		return fmt.Errorf("timeout after %v", timeout)
	}
	if err := token.Error(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cl.Disconnect(0)
		return ErrClosed
	}
	c.client = cl
	c.state = StateConnected
	return nil
}

// handleConnect runs on every successful connection, initial or reconnect.
func (c *Client) handleConnect(cl pahomqtt.Client) {
	c.restoreSubscriptions(cl)
	cl.Publish(Topics{}.ServiceStatus(), 1, true, statusPayload(c.cfg.Broker.ClientID, "online", ""))

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleConnectionLost makes exactly one reconnect attempt on the existing
// paho client. Success returns to connected, failure leaves the client
// disconnected until the process restarts it.
func (c *Client) handleConnectionLost(cl pahomqtt.Client, cause error) {
	c.mu.Lock()
	if c.closed || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	c.logger.Warn("mqtt connection lost, reconnecting", "error", cause)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(cause)
	}

	token := cl.Connect()
	var err error
	switch {
	case !token.WaitTimeout(c.connectTimeout()):
		err = fmt.Errorf("timeout after %v", c.connectTimeout())
	case token.Error() != nil:
		err = token.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		c.state = StateDisconnected
	case err != nil:
		c.state = StateDisconnected
		c.logger.Error("mqtt reconnect failed", "error", err)
	default:
		c.state = StateConnected
		c.logger.Info("mqtt reconnected")
	}
}

// Disconnect publishes a graceful offline status, waits for outstanding
// acknowledgements and closes the connection. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cl := c.client
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if cl == nil {
		return
	}
	if wasConnected && cl.IsConnected() {
		token := cl.Publish(Topics{}.ServiceStatus(), 1, true,
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(defaultAckTimeout)
	}
	c.pending.Wait()
	cl.Disconnect(defaultDisconnectQuiesce)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is connected and usable.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected && c.client != nil && c.client.IsConnected()
}

// HealthCheck returns ErrNotConnected unless the client is connected.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetOnConnect sets a callback invoked after every successful connection.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// connectedClient returns the paho client when publishing is possible.
func (c *Client) connectedClient() (pahomqtt.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.state != StateConnected || c.client == nil || !c.client.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
