package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"polip/internal/pkg/auth"
	"polip/internal/pkg/transport"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultServerURL is the ingest server used when none is configured.
const DefaultServerURL = "http://localhost:3021"

const apiBase = "/api/device/v1"

// valueInvalidIndicator is the server's body marker for a stale or
// incorrect sync value on a non-success response.
const valueInvalidIndicator = "value invalid"

// Client composes authenticated documents and drives request/response
// exchanges with the ingest server.
type Client struct {
	serverURL string
	transport transport.Transport
}

// Cfg configures a Client.
type Cfg func(*Client) error

// WithServerURL sets the ingest server base URL.
func WithServerURL(url string) Cfg {
	return func(c *Client) error {
		c.serverURL = strings.TrimRight(url, "/")
		return nil
	}
}

// WithTransport sets the transport used for exchanges.
func WithTransport(t transport.Transport) Cfg {
	return func(c *Client) error {
		c.transport = t
		return nil
	}
}

// NewClient creates a new Client with the given configuration.
func NewClient(cfgs ...Cfg) (*Client, error) {
	client := &Client{
		serverURL: DefaultServerURL,
	}
	for _, cfg := range cfgs {
		if err := cfg(client); err != nil {
			return nil, errors.Wrap(err, "apply Client cfg failed")
		}
	}
	if client.transport == nil {
		t, err := transport.NewHTTP()
		if err != nil {
			return nil, errors.Wrap(err, "new HTTP transport failed")
		}
		client.transport = t
	}
	return client, nil
}

// exchangeOptions control which fields a single exchange includes.
type exchangeOptions struct {
	skipValue bool
	skipTag   bool
}

// CheckServerStatus probes the ingest server health endpoint.
func (c *Client) CheckServerStatus(ctx context.Context) error {
	status, _, err := c.transport.Get(ctx, c.serverURL+apiBase+"/health/check")
	if err != nil {
		return errors.Wrap(ErrServerError, err.Error())
	}
	if status != http.StatusOK {
		return errors.Wrapf(ErrServerError, "health check returned status %d", status)
	}
	return nil
}

// GetState fetches the device's current server-side view. The query flags
// additionally request state data, manufacturer-defined data and the
// pending RPC listing.
func (c *Client) GetState(ctx context.Context, dev *Identity, timestamp string,
	queryState, queryManufacturer, queryRPC bool) (Document, error) {
	endpoint := fmt.Sprintf("%s/poll?state=%s&manufacturer=%s&rpc=%s",
		apiBase,
		strconv.FormatBool(queryState),
		strconv.FormatBool(queryManufacturer),
		strconv.FormatBool(queryRPC),
	)
	return c.exchange(ctx, dev, nil, timestamp, endpoint, exchangeOptions{})
}

// GetMeta fetches the device's metadata tables.
func (c *Client) GetMeta(ctx context.Context, dev *Identity, timestamp string,
	queryState, querySensors, queryManufacturer, queryGeneral bool) (Document, error) {
	endpoint := fmt.Sprintf("%s/meta?state=%s&manufacturer=%s&sensors=%s&general=%s",
		apiBase,
		strconv.FormatBool(queryState),
		strconv.FormatBool(queryManufacturer),
		strconv.FormatBool(querySensors),
		strconv.FormatBool(queryGeneral),
	)
	return c.exchange(ctx, dev, nil, timestamp, endpoint, exchangeOptions{})
}

// PushState submits the device's current state. The payload must contain
// a state field.
func (c *Client) PushState(ctx context.Context, dev *Identity, payload Document, timestamp string) (Document, error) {
	if !payload.Has("state") {
		return nil, errors.Wrap(ErrMalformedRequest, "missing state field")
	}
	return c.exchange(ctx, dev, payload, timestamp, apiBase+"/state", exchangeOptions{})
}

// PushError submits an error notification. The payload must contain code
// and message fields.
func (c *Client) PushError(ctx context.Context, dev *Identity, payload Document, timestamp string) (Document, error) {
	if !payload.Has("code") || !payload.Has("message") {
		return nil, errors.Wrap(ErrMalformedRequest, "missing code or message field")
	}
	return c.exchange(ctx, dev, payload, timestamp, apiBase+"/error", exchangeOptions{})
}

// PushNotification submits a notification. It shares the error route.
func (c *Client) PushNotification(ctx context.Context, dev *Identity, payload Document, timestamp string) (Document, error) {
	return c.PushError(ctx, dev, payload, timestamp)
}

// PushSensors submits the device's sensor readings. The payload must
// contain a sense field.
func (c *Client) PushSensors(ctx context.Context, dev *Identity, payload Document, timestamp string) (Document, error) {
	if !payload.Has("sense") {
		return nil, errors.Wrap(ErrMalformedRequest, "missing sense field")
	}
	return c.exchange(ctx, dev, payload, timestamp, apiBase+"/sense", exchangeOptions{})
}

// GetValue fetches the server's authoritative sync value and overwrites
// the identity's counter with it. The exchange itself carries no value
// and skips the tag check, so it succeeds even when the device has
// desynchronized.
func (c *Client) GetValue(ctx context.Context, dev *Identity, timestamp string) (Document, error) {
	resp, err := c.exchange(ctx, dev, nil, timestamp, apiBase+"/value", exchangeOptions{
		skipValue: true,
		skipTag:   true,
	})
	if err != nil {
		return nil, err
	}
	value, ok := resp.Uint32("value")
	if !ok {
		return nil, errors.Wrap(ErrResponseDeserialization, "missing value field")
	}
	dev.Value = value
	return resp, nil
}

// PushRPC submits an RPC status update. The payload must contain an rpc
// object with uuid, result and status fields; the rpc timestamp is
// auto-filled when absent.
func (c *Client) PushRPC(ctx context.Context, dev *Identity, payload Document, timestamp string) (Document, error) {
	rpcObj, ok := payload.Object("rpc")
	if !ok {
		return nil, errors.Wrap(ErrMalformedRequest, "missing rpc field")
	}
	for _, field := range []string{"uuid", "result", "status"} {
		if !rpcObj.Has(field) {
			return nil, errors.Wrapf(ErrMalformedRequest, "missing rpc.%s field", field)
		}
	}
	if !rpcObj.Has("timestamp") {
		rpcObj["timestamp"] = timestamp
	}
	return c.exchange(ctx, dev, payload, timestamp, apiBase+"/rpc", exchangeOptions{})
}

// GetSchema fetches the schema for this device.
func (c *Client) GetSchema(ctx context.Context, dev *Identity, timestamp string) (Document, error) {
	return c.exchange(ctx, dev, nil, timestamp, apiBase+"/schema", exchangeOptions{})
}

// GetAllErrorSemantics fetches the semantic table for every error code.
func (c *Client) GetAllErrorSemantics(ctx context.Context, dev *Identity, timestamp string) (Document, error) {
	return c.exchange(ctx, dev, nil, timestamp, apiBase+"/error/semantic", exchangeOptions{})
}

// GetErrorSemanticFromCode fetches the semantic entry for a single error
// code.
func (c *Client) GetErrorSemanticFromCode(ctx context.Context, dev *Identity, code int32, timestamp string) (Document, error) {
	endpoint := fmt.Sprintf("%s/error/semantic?code=%d", apiBase, code)
	return c.exchange(ctx, dev, nil, timestamp, endpoint, exchangeOptions{})
}

// exchange drives one authenticated request/response cycle against the
// given endpoint. The identity's value advances by exactly one only when
// the exchange carries a value and completes without any fault.
func (c *Client) exchange(ctx context.Context, dev *Identity, payload Document,
	timestamp, endpoint string, opts exchangeOptions) (Document, error) {
	req, err := c.packRequest(dev, payload, timestamp, opts)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request failed")
	}

	logger.WithFields(logrus.Fields{
		"serial":   dev.Serial,
		"endpoint": endpoint,
	}).Debug(string(raw))

	status, body, err := c.transport.Post(ctx, c.serverURL+endpoint, raw)
	if err != nil {
		return nil, errors.Wrap(ErrServerError, err.Error())
	}
	if status != http.StatusOK {
		if strings.Contains(string(body), valueInvalidIndicator) {
			return nil, ErrValueMismatch
		}
		return nil, errors.Wrapf(ErrServerError, "status %d", status)
	}

	var resp Document
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(ErrResponseDeserialization, err.Error())
	}

	logger.WithFields(logrus.Fields{
		"serial":   dev.Serial,
		"endpoint": endpoint,
	}).Debug(string(body))

	if !opts.skipTag && !dev.SkipTagCheck {
		ok, err := auth.Verify(dev.Key, resp.String(auth.TagField), resp)
		if err != nil {
			return nil, errors.Wrap(err, "verify response tag failed")
		}
		if !ok {
			return nil, ErrTagMismatch
		}
	}

	if !opts.skipValue {
		dev.Value++
	}
	return resp, nil
}

// packRequest assembles the canonical outbound document from the identity
// fields and the caller's payload.
func (c *Client) packRequest(dev *Identity, payload Document, timestamp string, opts exchangeOptions) (Document, error) {
	doc := payload.Clone()
	doc["serial"] = dev.Serial
	doc["firmware"] = dev.Firmware
	doc["hardware"] = dev.Hardware
	doc["timestamp"] = timestamp

	if !opts.skipValue {
		doc["value"] = dev.Value
	}
	if !opts.skipTag {
		doc[auth.TagField] = auth.TagPlaceholder
		if !dev.SkipTagCheck {
			tag, err := auth.ComputeTag(dev.Key, doc)
			if err != nil {
				return nil, errors.Wrap(err, "compute request tag failed")
			}
			doc[auth.TagField] = tag
		}
	}
	return doc, nil
}
