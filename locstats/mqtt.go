package locstats

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RefreshHandler is called when a refresh command arrives. The payload is
// the raw command body, usually empty or a dataset name.
type RefreshHandler func(payload string)

// ConnectHandler is called after every successful (re)connection, once the
// refresh subscription is in place.
type ConnectHandler func()

// MQTTClient owns the broker connection used for publishing summaries and
// receiving refresh commands.
type MQTTClient struct {
	client         mqtt.Client
	prefix         string
	refreshHandler RefreshHandler
	connectHandler ConnectHandler
	isConnected    bool
	mu             sync.RWMutex
}

// InitMQTT connects to the configured broker in the background. With no
// broker configured MQTT is disabled and (nil, nil) is returned. Call
// Config.ApplyEnv first so MQTT_* variables take effect. onConnected runs
// on every connection so retained topics can be republished.
func InitMQTT(cfg MQTTConfig, handler RefreshHandler, onConnected ConnectHandler) (*MQTTClient, error) {
	if cfg.Broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil, nil
	}
	if cfg.PublishPrefix == "" {
		return nil, fmt.Errorf("%w: mqtt.publishPrefix is required", ErrInvalidConfig)
	}

	c := &MQTTClient{
		prefix:         cfg.PublishPrefix,
		refreshHandler: handler,
		connectHandler: onConnected,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "vtrstats"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("[MQTT] reconnecting...")
	})

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()

	return c, nil
}

// connectWithRetry dials until the first connection succeeds, doubling the
// delay up to a minute. Later drops are handled by paho's auto-reconnect.
func (c *MQTTClient) connectWithRetry() {
	delay := time.Second
	const maxDelay = 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v", delay)
		time.Sleep(delay)
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// RefreshTopic is the command topic that triggers a re-aggregation
func (c *MQTTClient) RefreshTopic() string {
	return c.prefix + "/cmd/refresh"
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.RefreshTopic()
	log.Printf("[MQTT] subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.handleRefresh)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
	}

	c.mu.RLock()
	handler := c.connectHandler
	c.mu.RUnlock()
	if handler != nil {
		handler()
	}
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("[MQTT] connection lost (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) handleRefresh(_ mqtt.Client, msg mqtt.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	log.Printf("[MQTT] refresh requested on %s (%d bytes)", msg.Topic(), len(payload))

	c.mu.RLock()
	handler := c.refreshHandler
	c.mu.RUnlock()
	if handler != nil {
		handler(payload)
	}
}

// SetRefreshHandler replaces the refresh callback
func (c *MQTTClient) SetRefreshHandler(handler RefreshHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshHandler = handler
}

// SetConnectHandler replaces the connect callback
func (c *MQTTClient) SetConnectHandler(handler ConnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectHandler = handler
}

// IsConnected reports the last known connection state
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect closes the connection with a short quiesce period
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying paho client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps an existing client, skipping the dial loop
func newMQTTClientWithMock(client mqtt.Client, prefix string, handler RefreshHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		prefix:         prefix,
		refreshHandler: handler,
	}
}
