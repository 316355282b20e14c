package datalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// MQTTTimeout bounds connect and publish calls
const MQTTTimeout = 5 * time.Second

// MQTT publishes each record as JSON to a topic, {Topic}/{state}
type MQTT struct {
	Topic  string
	client *paho.Client
}

// DialMQTT connects to the broker at addr (host:port)
func DialMQTT(ctx context.Context, addr, topic, clientID string) (*MQTT, error) {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, MQTTTimeout)
	defer cancel()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c := paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
	})
	ack, err := c.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		CleanStart: true,
		KeepAlive:  30,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ack.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("mqtt connect refused, reason code %d", ack.ReasonCode)
	}
	return &MQTT{Topic: topic, client: c}, nil
}

// Write implements Sink
func (m *MQTT) Write(rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), MQTTTimeout)
	defer cancel()
	_, err = m.client.Publish(ctx, &paho.Publish{
		Topic:   m.Topic + "/" + rec.State.String(),
		QoS:     0,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	return err
}

// Flush implements Sink; records are published unbuffered
func (m *MQTT) Flush() error { return nil }

// Close implements Sink
func (m *MQTT) Close() error {
	return m.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
