// Package mqtttest provides an in-process MQTT broker which emulates the Device Provisioning
// Service and the telemetry endpoint of an IoT hub. It is meant for tests.
package mqtttest

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	devmqtt "github.com/relabs-tech/devsim/iot/mqtt"
)

const (
	registerTopicPrefix = "$dps/registrations/PUT/iotdps-register/"
	statusTopicPrefix   = "$dps/registrations/GET/iotdps-get-operationstatus/"
)

// Registration is what the emulated provisioning service answers
type Registration struct {
	// Status is the final registration status. Default is "assigned".
	Status string
	// AssignedHub is the hub host in the final answer
	AssignedHub string
	// DeviceID is the canonical device id in the final answer. Default is the registration id.
	DeviceID string
	// Polls is the number of "assigning" answers before the final status
	Polls int
	// RejectCode, if set, answers the registration request with this status code
	RejectCode int
	// Silent makes the service swallow registration requests
	Silent bool
}

// Message is a message which arrived at the broker
type Message struct {
	ClientID string
	Topic    string
	Payload  []byte
}

// Broker is an MQTT broker for tests
type Broker struct {
	// Host is the address the broker listens on
	Host string
	// Port is the port the broker listens on
	Port int

	p        *plugin
	server   mqttServer
	stopOnce sync.Once
}

// mqttServer is the part of the gmqtt server the broker controls
type mqttServer interface {
	Run()
	Stop(ctx context.Context) error
}

type operation struct {
	registrationID string
	polls          int
}

// plugin is the plugin for GMQTT
type plugin struct {
	mu           sync.Mutex
	registration Registration
	operations   map[string]*operation
	connects     []string
	messages     []Message

	service gmqtt.Server
}

// NewBroker starts a broker on a random local port. The broker is stopped when the test ends.
func NewBroker(t testing.TB, registration Registration) *Broker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	if registration.Status == "" {
		registration.Status = "assigned"
	}

	b := &Broker{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		p: &plugin{
			registration: registration,
			operations:   make(map[string]*operation),
		},
	}
	b.server = gmqtt.NewServer(
		gmqtt.WithTCPListener(ln),
		gmqtt.WithPlugin(b.p),
	)
	b.server.Run()
	t.Cleanup(b.Stop)
	return b
}

// Transport returns a plain TCP transport pointing to the broker
func (b *Broker) Transport() devmqtt.Transport {
	return devmqtt.Transport{
		Scheme:         "tcp",
		Port:           b.Port,
		ConnectTimeout: 5 * time.Second,
		KeepAlive:      30 * time.Second,
	}
}

// Stop stops the broker and drops all client connections. It can be called more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.server.Stop(ctx)
	})
}

// Connects returns the client IDs of all accepted connections, in order
func (b *Broker) Connects() []string {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	return append([]string(nil), b.p.connects...)
}

// Messages returns all messages which arrived on topics with the given prefix
func (b *Broker) Messages(topicPrefix string) []Message {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	var result []Message
	for _, m := range b.p.messages {
		if strings.HasPrefix(m.Topic, topicPrefix) {
			result = append(result, m)
		}
	}
	return result
}

// WaitMessages waits until at least n messages arrived on topics with the given prefix
func (b *Broker) WaitMessages(topicPrefix string, n int, timeout time.Duration) []Message {
	deadline := time.Now().Add(timeout)
	for {
		messages := b.Messages(topicPrefix)
		if len(messages) >= n || time.Now().After(deadline) {
			return messages
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	p.service = service
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "devsim test broker" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnConnectWrapper:    p.OnConnectWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

// OnConnectWrapper records connecting clients
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		p.mu.Lock()
		p.connects = append(p.connects, client.OptionsReader().ClientID())
		p.mu.Unlock()
		return connect(ctx, client)
	}
}

// OnMsgArrivedWrapper records messages and answers provisioning requests
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		clientID := client.OptionsReader().ClientID()
		topic := msg.Topic()
		payload := append([]byte(nil), msg.Payload()...)

		p.mu.Lock()
		p.messages = append(p.messages, Message{ClientID: clientID, Topic: topic, Payload: payload})
		p.mu.Unlock()

		switch {
		case strings.HasPrefix(topic, registerTopicPrefix):
			go p.answerRegister(topic, payload)
		case strings.HasPrefix(topic, statusTopicPrefix):
			go p.answerOperationStatus(topic)
		}
		return arrived(ctx, client, msg)
	}
}

func (p *plugin) answerRegister(topic string, payload []byte) {
	if p.registration.Silent {
		return
	}
	query := topicQuery(topic)
	rid := query.Get("$rid")

	var request struct {
		RegistrationID string `json:"registrationId"`
	}
	if err := json.Unmarshal(payload, &request); err != nil || request.RegistrationID == "" {
		p.respond(400, rid, map[string]any{"errorCode": 400004, "message": "invalid registration request"})
		return
	}
	if p.registration.RejectCode != 0 {
		p.respond(p.registration.RejectCode, rid, map[string]any{"errorCode": p.registration.RejectCode * 1000, "message": "registration rejected"})
		return
	}

	operationID := "op-" + uuid.NewString()
	p.mu.Lock()
	p.operations[operationID] = &operation{registrationID: request.RegistrationID}
	p.mu.Unlock()
	p.respond(202, rid, map[string]any{"operationId": operationID, "status": "assigning"})
}

func (p *plugin) answerOperationStatus(topic string) {
	query := topicQuery(topic)
	rid := query.Get("$rid")
	operationID := query.Get("operationId")

	p.mu.Lock()
	op, ok := p.operations[operationID]
	if ok {
		op.polls++
	}
	p.mu.Unlock()

	if !ok {
		p.respond(404, rid, map[string]any{"errorCode": 404001, "message": "unknown operation"})
		return
	}
	if op.polls <= p.registration.Polls {
		p.respond(202, rid, map[string]any{"operationId": operationID, "status": "assigning"})
		return
	}

	deviceID := p.registration.DeviceID
	if deviceID == "" {
		deviceID = op.registrationID
	}
	p.respond(200, rid, map[string]any{
		"operationId": operationID,
		"status":      p.registration.Status,
		"registrationState": map[string]any{
			"registrationId": op.registrationID,
			"assignedHub":    p.registration.AssignedHub,
			"deviceId":       deviceID,
			"status":         p.registration.Status,
			"substatus":      "initialAssignment",
		},
	})
}

func (p *plugin) respond(code int, rid string, body any) {
	topic := fmt.Sprintf("$dps/registrations/res/%d/?$rid=%s", code, url.QueryEscape(rid))
	if code == 202 {
		topic += "&retry-after=0"
	}
	payload, _ := json.Marshal(body)
	p.service.PublishService().Publish(gmqtt.NewMessage(topic, payload, packets.QOS_1))
}

func topicQuery(topic string) url.Values {
	i := strings.Index(topic, "?")
	if i < 0 {
		return url.Values{}
	}
	query, _ := url.ParseQuery(topic[i+1:])
	return query
}
