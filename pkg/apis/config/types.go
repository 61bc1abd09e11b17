// Package config defines the bridge's typed configuration tree and
// its YAML loading, in the style of kubeedge's
// edge/pkg/apis/edgecore/config (a struct tree parsed with
// sigs.k8s.io/yaml). There is no package-level Config variable: Load
// returns the parsed *Bridge and callers pass it on explicitly.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// NotificationType enumerates the C3 channel modes.
type NotificationType string

const (
	NotificationWebhook   NotificationType = "webhook"
	NotificationWebSocket NotificationType = "websocket"
	NotificationPoll      NotificationType = "poll"
)

// SourceCloud holds the mds_* keys from spec.md §6.
type SourceCloud struct {
	APIEndpointAddress    string   `json:"api_endpoint_address"`
	APIPort               int      `json:"api_port"`
	APIKey                string   `json:"api_key"`
	NotificationType      string   `json:"notification_type"`
	LongPollURI           string   `json:"long_poll_uri"`
	EnableLongPoll        bool     `json:"enable_long_poll"`
	EnableWebSocket       bool     `json:"enable_web_socket"`
	GatewayAddress        string   `json:"gw_address"`
	GatewayPort           int      `json:"gw_port"`
	GatewayContextPath    string   `json:"gw_context_path"`
	GatewayEventsPath     string   `json:"gw_events_path"`
	WebhookNumRetries     int      `json:"webhook_num_retries"`
	SkipValidationChecks  bool     `json:"skip_validation_checks"`
	EnableDeviceRequestAPI bool    `json:"enable_device_request_api"`
	EnableAttributeGets   bool     `json:"enable_attribute_gets"`
	AttributeURIList      []string `json:"attribute_uri_list"`
	MaxShadowCreateThreads int     `json:"max_shadow_create_threads"`
	DefaultEndpointType   string   `json:"def_ep_type"`
	RemoveOnDeregistration bool    `json:"remove_on_deregistration"`
	PaginationLimit       int      `json:"pagination_limit"`
}

// Peer holds the iot_event_hub_* keys for a single peer adapter.
type Peer struct {
	Name                    string `json:"name"`
	ConnectString           string `json:"connect_string"`
	SASToken                string `json:"sas_token"`
	HubName                 string `json:"hub_name"`
	MaxShadows              int    `json:"max_shadows"`
	EnableDeviceIDPrefix    bool   `json:"enable_device_id_prefix"`
	DeviceIDPrefix          string `json:"device_id_prefix"`
	DeviceIDPrefixSeparator string `json:"device_id_prefix_separator"`
	VersionTag              string `json:"version_tag"`
	MQTTIPAddress           string `json:"mqtt_ip_address"`
	MQTTPort                int    `json:"mqtt_port"`
	MQTTUsernameTemplate    string `json:"mqtt_username_template"`
	ObserveNotificationTopicTemplate string `json:"observe_notification_topic_template"`
	CoapCmdTopicTemplate    string `json:"coap_cmd_topic_template"`
	ReconnectSleepMs        int    `json:"reconnect_sleep_ms"`
}

// Bridge is the root configuration document.
type Bridge struct {
	SourceCloud SourceCloud `json:"source_cloud"`
	Peers       []Peer      `json:"peers"`
}

func defaultSourceCloud() SourceCloud {
	return SourceCloud{
		APIPort:                443,
		NotificationType:       string(NotificationWebhook),
		WebhookNumRetries:      25,
		MaxShadowCreateThreads: 100,
		DefaultEndpointType:    "default",
		PaginationLimit:        100,
		AttributeURIList:       []string{"/3/0/0", "/3/0/1", "/3/0/2"},
	}
}

func defaultPeer(p Peer) Peer {
	if p.MaxShadows == 0 {
		p.MaxShadows = 25000
	}
	if p.DeviceIDPrefixSeparator == "" {
		p.DeviceIDPrefixSeparator = "-"
	}
	if p.MQTTPort == 0 {
		p.MQTTPort = 8883
	}
	if p.ReconnectSleepMs == 0 {
		p.ReconnectSleepMs = 1000
	}
	if p.MQTTUsernameTemplate == "" {
		p.MQTTUsernameTemplate = "__IOT_EVENT_HUB__.azure-devices.net/__EPNAME__"
	}
	if p.ObserveNotificationTopicTemplate == "" {
		p.ObserveNotificationTopicTemplate = "devices/__EPNAME__/messages/events/__OBSERVATION_KEY__"
	}
	if p.CoapCmdTopicTemplate == "" {
		p.CoapCmdTopicTemplate = "devices/__EPNAME__/messages/devicebound/#"
	}
	return p
}

// Load reads and validates a Bridge configuration document from path.
func Load(path string) (*Bridge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	cfg := &Bridge{SourceCloud: defaultSourceCloud()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config file %s: %w", path, err)
	}
	for i := range cfg.Peers {
		cfg.Peers[i] = defaultPeer(cfg.Peers[i])
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a configuration with no api_key or with an unknown
// notification_type by returning an error. It does not check for
// placeholder values; cmd/bridge exits when Load returns this error,
// so the bridge does not stay up to be reconfigured.
func Validate(cfg *Bridge) error {
	if cfg.SourceCloud.APIKey == "" {
		return fmt.Errorf("source_cloud.api_key is required")
	}
	switch NotificationType(cfg.SourceCloud.NotificationType) {
	case NotificationWebhook, NotificationWebSocket, NotificationPoll:
	default:
		return fmt.Errorf("source_cloud.notification_type %q is not one of webhook|websocket|poll", cfg.SourceCloud.NotificationType)
	}
	return nil
}

// ResolveNotificationType applies spec.md §4.3's legacy-boolean
// priority: websocket > long-poll > webhook, honored ahead of an
// explicit notification_type only when the legacy booleans are set.
func ResolveNotificationType(sc SourceCloud) NotificationType {
	if sc.EnableWebSocket {
		return NotificationWebSocket
	}
	if sc.EnableLongPoll {
		return NotificationPoll
	}
	if sc.NotificationType != "" {
		return NotificationType(sc.NotificationType)
	}
	return NotificationWebhook
}
