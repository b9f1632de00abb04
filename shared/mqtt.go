package shared

import (
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("mqtt client not connected")

// MQTTConn is the subset of the paho client used for publishing.
type MQTTConn interface {
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTSettings struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	Retained  bool
}

type MQTTClient struct {
	conn     MQTTConn
	qos      byte
	retained bool
}

func NewMQTTClient(s MQTTSettings) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(s.BrokerURL).
		SetClientID(s.ClientID).
		SetUsername(s.Username).
		SetPassword(s.Password).
		SetCleanSession(true).
		SetConnectTimeout(30 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(128 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			log.WithField("broker", s.BrokerURL).Info("mqtt connected")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithField("broker", s.BrokerURL).Warnf("mqtt connection lost: %s", err)
		})

	conn := mqtt.NewClient(opts)
	token := conn.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return NewMQTTClientWithConn(conn, s.QoS, s.Retained), nil
}

func NewMQTTClientWithConn(conn MQTTConn, qos byte, retained bool) *MQTTClient {
	return &MQTTClient{conn: conn, qos: qos, retained: retained}
}

func (c *MQTTClient) Publish(topic string, payload []byte) error {
	if !c.conn.IsConnected() {
		return ErrNotConnected
	}
	token := c.conn.Publish(topic, c.qos, c.retained, payload)
	token.Wait()
	return token.Error()
}

func (c *MQTTClient) IsConnected() bool {
	return c.conn.IsConnected()
}

func (c *MQTTClient) Close() {
	if c.conn.IsConnected() {
		c.conn.Disconnect(250)
	}
}
