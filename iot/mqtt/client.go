package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Transport describes how to reach a broker host
type Transport struct {
	// Scheme is "ssl" or "tcp"
	Scheme string
	// Port is the broker port
	Port int
	// TLSConfig is used for ssl brokers. If nil, a config verifying the host is used.
	TLSConfig *tls.Config
	// ConnectTimeout bounds the MQTT connect handshake
	ConnectTimeout time.Duration
	// KeepAlive is the MQTT keep alive interval
	KeepAlive time.Duration
}

// DefaultTransport is MQTT over TLS on port 8883, as used by Azure
func DefaultTransport() Transport {
	return Transport{
		Scheme:         "ssl",
		Port:           8883,
		ConnectTimeout: 30 * time.Second,
		KeepAlive:      60 * time.Second,
	}
}

// BrokerURL returns the broker URL for host
func (t Transport) BrokerURL(host string) string {
	scheme := t.Scheme
	if scheme == "" {
		scheme = "ssl"
	}
	port := t.Port
	if port == 0 {
		port = 8883
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// ClientOptions returns paho options for a single, non-reconnecting session with host
func (t Transport) ClientOptions(host, clientID, username, password string) *paho.ClientOptions {
	connectTimeout := t.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 30 * time.Second
	}
	keepAlive := t.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(t.BrokerURL(host)).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetKeepAlive(keepAlive).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	if t.Scheme != "tcp" {
		tlsConfig := t.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts
}

// WaitToken waits until token completes or ctx is done
func WaitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TelemetryTopic returns the device-to-cloud topic for deviceID with the given system properties
func TelemetryTopic(deviceID, contentType, contentEncoding string) string {
	topic := "devices/" + deviceID + "/messages/events/"
	bag := ""
	if contentType != "" {
		bag += "$.ct=" + url.QueryEscape(contentType)
	}
	if contentEncoding != "" {
		if bag != "" {
			bag += "&"
		}
		bag += "$.ce=" + url.QueryEscape(contentEncoding)
	}
	return topic + bag
}
