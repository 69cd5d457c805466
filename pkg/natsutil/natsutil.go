// Package natsutil provides typed JSON publish and subscribe helpers for
// NATS, carrying OpenTelemetry trace context and a retry count in headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries the number of failed deliveries of a message.
const RetryHeader = "X-Retry-Count"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Delivery is a decoded message with its headers.
type Delivery[T any] struct {
	Subject string
	Value   T
	Header  nats.Header
	Data    []byte
}

// Retries reads RetryHeader. A missing or malformed header counts as zero.
func (d Delivery[T]) Retries() int {
	if d.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(d.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	return PublishWithHeader(ctx, nc, subject, v, nil)
}

// PublishWithHeader is Publish with extra headers set on the message.
func PublishWithHeader[T any](ctx context.Context, nc *nats.Conn, subject string, v T, h nats.Header) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  make(nats.Header, len(h)),
	}
	for k, vs := range h {
		for _, v := range vs {
			msg.Header.Add(k, v)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Republish sends d's raw payload back to its subject with RetryHeader set
// to retries.
func Republish[T any](ctx context.Context, nc *nats.Conn, d Delivery[T], retries int) error {
	msg := nats.NewMsg(d.Subject)
	msg.Data = d.Data
	msg.Header.Set(RetryHeader, strconv.Itoa(retries))
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// A non-empty queue joins a queue group. Trace context is extracted from the
// message headers and passed to the handler. Malformed messages go to
// onMalformed when it is set and are dropped otherwise.
func Subscribe[T any](nc *nats.Conn, subject, queue string, handler func(context.Context, Delivery[T]), onMalformed func(error)) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onMalformed != nil {
				onMalformed(fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err))
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, Delivery[T]{Subject: msg.Subject, Value: v, Header: msg.Header, Data: msg.Data})
	}
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, cb)
	}
	return nc.Subscribe(subject, cb)
}
