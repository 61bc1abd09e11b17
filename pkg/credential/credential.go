// Package credential implements the per-peer credential service (C2):
// connection-string parsing, SAS-token derivation, and a scheduled
// refresh worker. Grounded on original_source/IoTHubProcessor.java's
// parseConnectionString/createSASToken/refreshSASToken, with the
// refresh-worker shape taken from
// edge/pkg/edgehub/certificate/certmanager.go.
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	// DefaultValidity is the default SAS token lifetime (spec.md §4.2).
	DefaultValidity = 365 * 24 * time.Hour
	// DefaultRefreshInterval is the default refresh cadence, strictly
	// less than DefaultValidity per spec.md §4.2.
	DefaultRefreshInterval = 360 * 24 * time.Hour

	azureDevicesSuffix = ".azure-devices.net"
)

// Kind identifies the shape of a Credential's Value.
type Kind int

const (
	// KindSASToken is a signed token derived from a connection string.
	KindSASToken Kind = iota
	// KindStatic is a pre-supplied static shared secret/token.
	KindStatic
)

// Credential is the record described in spec.md §3.
type Credential struct {
	Kind       Kind
	Value      string
	IssuedAt   time.Time
	ValidityMs int64
}

// ParseConnectionString parses "HostName=<h>;SharedAccessKeyName=<kn>;SharedAccessKey=<k>"
// into its three named elements. Parsing is total: any missing key
// yields a nil map (spec.md §8 "Laws").
func ParseConnectionString(connectionString string) map[string]string {
	if connectionString == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(connectionString, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	for _, required := range []string{"HostName", "SharedAccessKeyName", "SharedAccessKey"} {
		if _, ok := out[required]; !ok {
			return nil
		}
	}
	return out
}

// HostNameFromConnectionString returns the peer hostname with the
// known Azure IoT Hub DNS suffix stripped (spec.md §4.2).
func HostNameFromConnectionString(connectionString string) string {
	elems := ParseConnectionString(connectionString)
	if elems == nil {
		return ""
	}
	return strings.TrimSuffix(elems["HostName"], azureDevicesSuffix)
}

// CreateSASToken derives an Azure IoT Hub SharedAccessSignature token
// valid for validity, per original_source/IoTHubProcessor.java's
// createSASToken (delegating to the well-known Azure SAS scheme:
// HMAC-SHA256 over "<urlencoded resource>\n<expiry>").
func CreateSASToken(connectionString string, validity time.Duration) (string, error) {
	elems := ParseConnectionString(connectionString)
	if elems == nil {
		return "", fmt.Errorf("connection string missing HostName/SharedAccessKeyName/SharedAccessKey")
	}
	key, err := base64.StdEncoding.DecodeString(elems["SharedAccessKey"])
	if err != nil {
		return "", fmt.Errorf("shared access key is not base64: %w", err)
	}
	resource := url.QueryEscape(elems["HostName"])
	expiry := strconv.FormatInt(time.Now().Add(validity).Unix(), 10)

	toSign := resource + "\n" + expiry
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(toSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	token := fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		resource, url.QueryEscape(signature), expiry, url.QueryEscape(elems["SharedAccessKeyName"]))
	return token, nil
}

// Service derives and periodically refreshes a peer's credential.
// Refresh runs on a single long-lived worker until Stop is called;
// failures during refresh log and continue (spec.md §4.2, §7).
type Service struct {
	connectionString string
	staticToken      string
	validity         time.Duration
	refreshInterval  time.Duration

	mu   sync.RWMutex
	cred Credential

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewService builds a credential service. If staticToken is non-empty
// it is used as-is (KindStatic) and no refresh worker is started.
func NewService(connectionString, staticToken string, validity, refreshInterval time.Duration) *Service {
	if validity <= 0 {
		validity = DefaultValidity
	}
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	s := &Service{
		connectionString: connectionString,
		staticToken:      staticToken,
		validity:         validity,
		refreshInterval:  refreshInterval,
		stopCh:           make(chan struct{}),
	}
	if staticToken != "" {
		s.cred = Credential{Kind: KindStatic, Value: staticToken, IssuedAt: time.Now(), ValidityMs: validity.Milliseconds()}
	}
	return s
}

// Start derives the initial token (if using a connection string) and
// launches the refresh worker. No-op for static-token services.
func (s *Service) Start() error {
	if s.staticToken != "" {
		return nil
	}
	if err := s.refresh(); err != nil {
		return err
	}
	go wait.Until(s.refreshLoop, s.refreshInterval, s.stopCh)
	return nil
}

func (s *Service) refreshLoop() {
	if err := s.refresh(); err != nil {
		klog.Warningf("credential refresh failed, keeping previous token: %v", err)
	}
}

func (s *Service) refresh() error {
	token, err := CreateSASToken(s.connectionString, s.validity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cred = Credential{Kind: KindSASToken, Value: token, IssuedAt: time.Now(), ValidityMs: s.validity.Milliseconds()}
	s.mu.Unlock()
	klog.Infof("credential refreshed, valid for %s", s.validity)
	return nil
}

// Current returns the most recently derived/refreshed credential. Per
// spec.md §9's Open Question, existing MQTT sessions are not
// force-disconnected on refresh: they keep using the credential
// snapshot they read at connect time until they next reconnect.
func (s *Service) Current() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Stop halts the refresh worker.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
