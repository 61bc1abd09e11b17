package notification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/httpclient"
)

// Resetter is invoked on terminal webhook-setup failure (spec.md §4.3
// "on terminal failure the orchestrator is asked to reset the
// bridge"); it is the orchestrator's reset().
type Resetter func()

// WebhookSetup is the narrow slice of the source-cloud surface the
// webhook mode drives directly (deleting prior channels, PUTting and
// verifying the callback descriptor). It is deliberately HTTP-shaped
// rather than sourcecloud.Client-shaped so it can be exercised without
// a full client.
type WebhookSetup struct {
	HTTP                 httpclient.Client
	BaseURL, APIKey      string
}

type callbackDescriptor struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Webhook implements the webhook notification mode: an HTTPS callback
// endpoint plus the setup sequence that tells the source cloud to
// deliver to it (spec.md §4.3 "Webhook mode").
type Webhook struct {
	setup       WebhookSetup
	callbackURL string
	authSecret  string
	numRetries  int
	retryWait   time.Duration
	skipValidation bool
	dedup       Dedup
	sink        Sink
	reset       Resetter
}

// NewWebhook builds a Webhook. authSecret is the shared value hashed
// into the Authentication header (spec.md §4.3); it is opaque to this
// package — callers derive it however their deployment requires.
func NewWebhook(setup WebhookSetup, callbackURL, authSecret string, numRetries int, retryWait time.Duration, skipValidation bool, sink Sink, reset Resetter) *Webhook {
	if numRetries <= 0 {
		numRetries = 25
	}
	if retryWait <= 0 {
		retryWait = time.Second
	}
	return &Webhook{setup: setup, callbackURL: callbackURL, authSecret: authSecret, numRetries: numRetries, retryWait: retryWait, skipValidation: skipValidation, sink: sink, reset: reset}
}

func (w *Webhook) authHash() string {
	mac := hmac.New(sha256.New, []byte(w.authSecret))
	mac.Write([]byte(w.callbackURL))
	return hex.EncodeToString(mac.Sum(nil))
}

// Establish deletes any pre-existing pull/long-poll channel and
// callback, then PUTs and verifies the new callback descriptor,
// retrying up to numRetries times. On terminal failure it calls
// reset() and returns the last error (spec.md §4.3).
func (w *Webhook) Establish() error {
	_, _ = w.setup.HTTP.Delete(w.setup.BaseURL+"/notification/pull", w.setup.APIKey)
	_, _ = w.setup.HTTP.Delete(w.setup.BaseURL+"/notification/callback", w.setup.APIKey)

	var lastErr error
	for attempt := 0; attempt < w.numRetries; attempt++ {
		if err := w.putAndVerify(); err != nil {
			lastErr = err
			klog.Warningf("webhook setup attempt %d/%d failed: %v", attempt+1, w.numRetries, err)
			time.Sleep(w.retryWait)
			continue
		}
		return nil
	}
	klog.Errorf("webhook setup exhausted %d retries, resetting bridge: %v", w.numRetries, lastErr)
	if w.reset != nil {
		w.reset()
	}
	return fmt.Errorf("webhook setup failed after %d retries: %w", w.numRetries, lastErr)
}

func (w *Webhook) putAndVerify() error {
	body, _ := json.Marshal(callbackDescriptor{
		URL:     w.callbackURL,
		Headers: map[string]string{"Authentication": w.authHash()},
	})
	resp, err := w.setup.HTTP.Put(w.setup.BaseURL+"/notification/callback", body, "application/json", w.setup.APIKey)
	if err != nil {
		return fmt.Errorf("put callback: %w", err)
	}
	if resp.Status/100 != 2 {
		return fmt.Errorf("put callback: unexpected status %d", resp.Status)
	}

	getResp, err := w.setup.HTTP.Get(w.setup.BaseURL+"/notification/callback", w.setup.APIKey)
	if err != nil {
		return fmt.Errorf("get callback: %w", err)
	}
	var got callbackDescriptor
	if err := json.Unmarshal(getResp.Body, &got); err != nil {
		return fmt.Errorf("decode callback: %w", err)
	}
	if got.URL != w.callbackURL {
		return fmt.Errorf("callback url mismatch: got %q want %q", got.URL, w.callbackURL)
	}
	return nil
}

// Handler returns the mux handler for the inbound webhook route: it
// validates the Authentication header (unless SkipValidationChecks or
// the header is absent — push-URL mode), decodes+dispatches the body,
// and always ACKs with an empty-JSON 200 (spec.md §4.3).
func (w *Webhook) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusOK)
			rw.Write([]byte("{}"))
		}()

		header := r.Header.Get("Authentication")
		if !w.skipValidation && header != "" && header != w.authHash() {
			klog.Warningf("webhook request authentication mismatch, dropping")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			klog.Warningf("webhook body read failed: %v", err)
			return
		}
		w.dedup.Decode(body, w.sink)
	}
}

// RegisterRoute mounts the webhook handler on router at path.
func (w *Webhook) RegisterRoute(router *mux.Router, path string) {
	router.HandleFunc(path, w.Handler()).Methods(http.MethodPost)
}
