package mqtt

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"hx711-scale/pkg/config"
	"hx711-scale/pkg/device"
	"hx711-scale/pkg/output"
)

const (
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "hx711-scale"
	DefaultStateTopic = "hx711/scale"

	// Home Assistant discovery payload keys/values.
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitGrams              = "g"
	deviceClassWeight      = "weight"
	stateClassMeasurement  = "measurement"
	valueTemplateGrams     = "{{ value_json.grams }}"
)

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
}

// NewMQTT connects to the broker and, when a discovery topic is
// configured, publishes a retained Home Assistant discovery payload.
func NewMQTT(cfg config.MQTTConfig) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.StateTopic == "" {
		cfg.StateTopic = DefaultStateTopic
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}

	if cfg.DiscoveryTopic != "" {
		payload := discoveryPayload(cfg)
		if err := publishJSON(client, cfg.DiscoveryTopic, true, payload); err != nil {
			log.Printf("mqtt discovery publish error: %v", err)
		}
	}

	return m, nil
}

func (m *MQTTOutput) Publish(r device.Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.stateTopic, 0, false, b)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// helper: build the discovery name, defaulting from the client id
func discoveryName(cfg config.MQTTConfig) string {
	if cfg.DiscoveryName != "" {
		return cfg.DiscoveryName
	}
	return fmt.Sprintf("HX711 Scale %s", cfg.ClientID)
}

// helper: build the discovery unique id, defaulting from the client id
func discoveryUniqueID(cfg config.MQTTConfig) string {
	if cfg.DiscoveryUniqueID != "" {
		return cfg.DiscoveryUniqueID
	}
	return cfg.ClientID
}

// helper: Home Assistant weight-sensor discovery payload
func discoveryPayload(cfg config.MQTTConfig) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                discoveryName(cfg),
		keyStateTopic:          cfg.StateTopic,
		keyUnitOfMeasurement:   unitGrams,
		keyDeviceClass:         deviceClassWeight,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateGrams,
		keyJSONAttributesTopic: cfg.StateTopic,
	}
	if uid := discoveryUniqueID(cfg); uid != "" {
		payload[keyUniqueID] = uid
	}
	return payload
}

// helper: marshal and publish a JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
