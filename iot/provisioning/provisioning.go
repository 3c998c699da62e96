package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/devsim/core/logger"
	"github.com/relabs-tech/devsim/iot"
	"github.com/relabs-tech/devsim/iot/credentials"
	devmqtt "github.com/relabs-tech/devsim/iot/mqtt"
)

// APIVersion is the provisioning service API version the client speaks
const APIVersion = "2019-03-31"

// DefaultRetryAfter is the operation poll interval when the service does not send a hint
const DefaultRetryAfter = 3 * time.Second

const (
	responseTopicFilter = "$dps/registrations/res/#"
	responseTopicPrefix = "$dps/registrations/res/"
)

// Status is the status of a device registration
type Status string

// registration states reported by the provisioning service
const (
	StatusUnassigned Status = "unassigned"
	StatusAssigning  Status = "assigning"
	StatusAssigned   Status = "assigned"
	StatusFailed     Status = "failed"
	StatusDisabled   Status = "disabled"
)

// Result is the outcome of a registration
type Result struct {
	Status Status
	// AssignedHub is the host name of the IoT hub the device was assigned to
	AssignedHub string
	// DeviceID is the canonical device id on the hub
	DeviceID string
	// Substatus gives details for assigned devices, e.g. initialAssignment
	Substatus string
	// ErrorMessage is set by the service for failed registrations
	ErrorMessage string
}

// Client registers one device. It is used once.
type Client struct {
	endpoint   string
	idScope    string
	deviceID   string
	deviceKey  string
	transport  devmqtt.Transport
	tokenTTL   time.Duration
	retryAfter time.Duration
	now        func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithTransport replaces the default MQTT over TLS transport
func WithTransport(t devmqtt.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithTokenLifetime sets the lifetime of the SAS token used as password
func WithTokenLifetime(d time.Duration) Option {
	return func(c *Client) { c.tokenTTL = d }
}

// New returns a provisioning client for deviceID. deviceKey is the derived, base64 device key.
func New(endpoint, idScope, deviceID, deviceKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		idScope:    idScope,
		deviceID:   deviceID,
		deviceKey:  deviceKey,
		transport:  devmqtt.DefaultTransport(),
		tokenTTL:   credentials.DefaultTokenLifetime,
		retryAfter: DefaultRetryAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Username returns the MQTT user name for the registration
func (c *Client) Username() string {
	return c.idScope + "/registrations/" + c.deviceID + "/api-version=" + APIVersion
}

type response struct {
	code       int
	rid        string
	retryAfter time.Duration
	hasRetry   bool
	body       []byte
}

type registrationRequest struct {
	RegistrationID string `json:"registrationId"`
}

type registrationOperation struct {
	OperationID       string             `json:"operationId"`
	Status            Status             `json:"status"`
	RegistrationState *registrationState `json:"registrationState"`
}

type registrationState struct {
	RegistrationID string `json:"registrationId"`
	AssignedHub    string `json:"assignedHub"`
	DeviceID       string `json:"deviceId"`
	Status         Status `json:"status"`
	Substatus      string `json:"substatus"`
	ErrorCode      int    `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
}

type serviceError struct {
	ErrorCode  int    `json:"errorCode"`
	TrackingID string `json:"trackingId"`
	Message    string `json:"message"`
}

// Register performs the registration. It returns a Result for every terminal registration
// status, the caller decides what a status other than StatusAssigned means. Transport and
// protocol failures are returned as errors wrapping iot.ErrProvisioning, cancellation of ctx
// as ctx.Err().
func (c *Client) Register(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rlog := logger.FromContext(ctx).WithField("endpoint", c.endpoint)

	password, err := credentials.SASToken(
		credentials.ProvisioningResourceURI(c.idScope, c.deviceID),
		c.deviceKey, credentials.RegistrationPolicy, c.now().Add(c.tokenTTL))
	if err != nil {
		return nil, err
	}

	responses := make(chan response, 8)
	client := paho.NewClient(c.transport.ClientOptions(c.endpoint, c.deviceID, c.Username(), password))

	rlog.Debugln("connecting to provisioning service")
	connectToken := client.Connect()
	if err := devmqtt.WaitToken(ctx, connectToken); err != nil {
		go func() {
			connectToken.Wait()
			client.Disconnect(0)
		}()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: cannot connect to %s: %v", iot.ErrProvisioning, c.endpoint, err)
	}
	defer client.Disconnect(250)

	onResponse := func(_ paho.Client, msg paho.Message) {
		r, err := parseResponse(msg.Topic(), msg.Payload())
		if err != nil {
			rlog.WithError(err).Warnln("ignoring provisioning message")
			return
		}
		select {
		case responses <- r:
		default:
			rlog.Warnln("dropping provisioning response", r.code, r.rid)
		}
	}
	if err := c.wait(ctx, client.Subscribe(responseTopicFilter, 1, onResponse), "subscribe"); err != nil {
		return nil, err
	}

	request, err := json.Marshal(registrationRequest{RegistrationID: c.deviceID})
	if err != nil {
		return nil, fmt.Errorf("%w: cannot encode registration request: %v", iot.ErrProvisioning, err)
	}

	rid := uuid.NewString()
	topic := "$dps/registrations/PUT/iotdps-register/?$rid=" + rid
	rlog.Infoln("registering device", c.deviceID)
	if err := c.wait(ctx, client.Publish(topic, 1, false, request), "register"); err != nil {
		return nil, err
	}

	for {
		r, err := c.await(ctx, responses, rid)
		if err != nil {
			return nil, err
		}
		if r.code >= 300 {
			var se serviceError
			_ = json.Unmarshal(r.body, &se)
			return nil, fmt.Errorf("%w: registration rejected with status %d (error code %d): %s",
				iot.ErrProvisioning, r.code, se.ErrorCode, se.Message)
		}

		var op registrationOperation
		if err := json.Unmarshal(r.body, &op); err != nil {
			return nil, fmt.Errorf("%w: invalid registration response: %v", iot.ErrProvisioning, err)
		}

		if op.Status != StatusAssigning {
			return op.result()
		}
		if op.OperationID == "" {
			return nil, fmt.Errorf("%w: assigning response without operation id", iot.ErrProvisioning)
		}

		delay := c.retryAfter
		if r.hasRetry {
			delay = r.retryAfter
		}
		rlog.Debugf("registration is assigning, polling operation %s in %s", op.OperationID, delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		rid = uuid.NewString()
		topic = "$dps/registrations/GET/iotdps-get-operationstatus/?$rid=" + rid +
			"&operationId=" + url.QueryEscape(op.OperationID)
		if err := c.wait(ctx, client.Publish(topic, 1, false, []byte{}), "poll operation"); err != nil {
			return nil, err
		}
	}
}

func (c *Client) wait(ctx context.Context, token paho.Token, what string) error {
	if err := devmqtt.WaitToken(ctx, token); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s failed: %v", iot.ErrProvisioning, what, err)
	}
	return nil
}

// await returns the next response for rid. Stale responses for earlier requests are skipped.
func (c *Client) await(ctx context.Context, responses <-chan response, rid string) (response, error) {
	for {
		select {
		case <-ctx.Done():
			return response{}, ctx.Err()
		case r := <-responses:
			if r.rid == rid {
				return r, nil
			}
		}
	}
}

func (op *registrationOperation) result() (*Result, error) {
	if op.Status == "" {
		return nil, fmt.Errorf("%w: registration response without status", iot.ErrProvisioning)
	}
	result := &Result{Status: op.Status}
	if state := op.RegistrationState; state != nil {
		result.AssignedHub = state.AssignedHub
		result.DeviceID = state.DeviceID
		result.Substatus = state.Substatus
		result.ErrorMessage = state.ErrorMessage
	}
	if result.Status == StatusAssigned && (result.AssignedHub == "" || result.DeviceID == "") {
		return nil, fmt.Errorf("%w: assigned registration without hub or device id", iot.ErrProvisioning)
	}
	return result, nil
}

// parseResponse parses a message on $dps/registrations/res/{code}/?$rid={rid}&retry-after={s}
func parseResponse(topic string, payload []byte) (response, error) {
	if !strings.HasPrefix(topic, responseTopicPrefix) {
		return response{}, fmt.Errorf("unexpected topic %s", topic)
	}
	rest := strings.TrimPrefix(topic, responseTopicPrefix)
	codeString, rawQuery, found := strings.Cut(rest, "/?")
	if !found {
		return response{}, fmt.Errorf("response topic without properties: %s", topic)
	}
	code, err := strconv.Atoi(codeString)
	if err != nil {
		return response{}, fmt.Errorf("invalid status code in %s", topic)
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return response{}, fmt.Errorf("invalid properties in %s: %w", topic, err)
	}
	r := response{code: code, rid: query.Get("$rid"), body: payload}
	if r.rid == "" {
		return response{}, errors.New("response without request id")
	}
	if s := query.Get("retry-after"); s != "" {
		seconds, err := strconv.Atoi(s)
		if err != nil || seconds < 0 {
			return response{}, fmt.Errorf("invalid retry-after %q", s)
		}
		r.retryAfter = time.Duration(seconds) * time.Second
		r.hasRetry = true
	}
	return r, nil
}
