// Package mqttadapter implements the MQTT/IoT-Hub peer adapter (C9
// exemplar): topic layout, credential templating, inbound message
// routing, and reconnect. Grounded throughout on
// original_source/IoTHubProcessor.java, with the paho wiring itself
// delegated to pkg/mqttsession (kubeedge's
// edge/pkg/eventbus/mqtt/client.go idiom).
package mqttadapter

import "strings"

// digitalTwinTopic is fixed per spec.md §4.8; it never varies per
// device because the IoT Hub client library subscribes it globally
// per connection (original_source/IoTHubProcessor.java DT_NOTIFICATION_TOPIC).
const digitalTwinTopic = "$iothub/twin/res/#"

// customizeTopic substitutes __EPNAME__ with the peer-prefixed device
// name, mirroring IoTHubProcessor.customizeTopic.
func customizeTopic(template, prefixedName string) string {
	return strings.ReplaceAll(template, "__EPNAME__", prefixedName)
}

// commandTopic returns the per-device inbound command topic filter,
// built from the peer's configured template (spec.md §4.8 "Command
// topic").
func commandTopic(template, prefixedName string) string {
	return customizeTopic(template, prefixedName)
}

// observationTopic returns the per-device outbound telemetry topic,
// built from the peer's configured template (spec.md §4.8).
func observationTopic(template, prefixedName string) string {
	return customizeTopic(template, prefixedName)
}

// replyTopic swaps the observation-key substring in the observation
// topic for replacementKey (the cmd-response or API-response key),
// yielding the topic a command's or API request's reply is published
// to (spec.md §4.8
// "__OBSERVATION_KEY__ ↔ __CMD_RESPONSE_KEY__ / __API_RESPONSE_KEY__").
func replyTopic(observationTemplate, prefixedName, observationKey, replacementKey string) string {
	topic := observationTopic(observationTemplate, prefixedName)
	return strings.Replace(topic, observationKey, replacementKey, 1)
}

// isDigitalTwinTopic reports whether topic is a digital-twin
// notification (original_source/IoTHubProcessor.java isDigitalTwin).
func isDigitalTwinTopic(topic string) bool {
	return strings.Contains(topic, "twin/res")
}
