// Package sourcecloud implements the source-cloud REST client (C4):
// paginated discovery, resource listing, bulk subscription, and
// device-request operations. Paths and verbs are grounded on
// original_source/PelionProcessor.java; transport goes through
// pkg/httpclient (C1).
package sourcecloud

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/httpclient"
)

// DeviceSummary is one entry of the discovery response.
type DeviceSummary struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type discoveryPage struct {
	Data    []DeviceSummary `json:"data"`
	HasMore bool            `json:"has_more"`
	After   string          `json:"after"`
}

// ResourceEntry is one entry of a device's resource list.
type ResourceEntry struct {
	Path string `json:"path"`
	RT   string `json:"rt"`
	Obs  bool   `json:"obs"`
	Type string `json:"type"`
}

// Account is the tenant summary returned by /v3/accounts/me.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Client is the C4 source-cloud surface.
type Client struct {
	http           httpclient.Client
	baseURL        string
	apiKey         string
	paginationLimit int
	enableDeviceRequestAPI bool
}

// New builds a Client. baseURL is e.g. "https://api.us-east-1.mbedcloud.com".
func New(http httpclient.Client, baseURL, apiKey string, paginationLimit int, enableDeviceRequestAPI bool) *Client {
	if paginationLimit <= 0 {
		paginationLimit = 100
	}
	return &Client{http: http, baseURL: baseURL, apiKey: apiKey, paginationLimit: paginationLimit, enableDeviceRequestAPI: enableDeviceRequestAPI}
}

// DiscoverRegisteredDevices follows /v3/devices pages while
// has_more=true, combining them into one list preserving per-page
// order (spec.md §4.4, §8 "Pagination combine").
func (c *Client) DiscoverRegisteredDevices() ([]DeviceSummary, error) {
	var all []DeviceSummary
	after := ""
	for {
		url := fmt.Sprintf("%s/v3/devices?filter=state=registered&limit=%d&order=ASC", c.baseURL, c.paginationLimit)
		if after != "" {
			url += "&after=" + after
		}
		resp, err := c.http.Get(url, c.apiKey)
		if err != nil {
			return nil, fmt.Errorf("discover devices: %w", err)
		}
		if resp.Status != 200 {
			return nil, fmt.Errorf("discover devices: unexpected status %d", resp.Status)
		}
		var page discoveryPage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, fmt.Errorf("decode device page: %w", err)
		}
		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			break
		}
		after = page.Data[len(page.Data)-1].ID
	}
	return all, nil
}

// ResourceList fetches the un-paginated resource list for deviceID
// (spec.md §4.4 "Resource discovery").
func (c *Client) ResourceList(deviceID string) ([]ResourceEntry, error) {
	url := fmt.Sprintf("%s/v2/endpoints/%s", c.baseURL, deviceID)
	resp, err := c.http.Get(url, c.apiKey)
	if err != nil {
		return nil, fmt.Errorf("resource list %s: %w", deviceID, err)
	}
	if resp.Status != 200 {
		return nil, fmt.Errorf("resource list %s: unexpected status %d", deviceID, resp.Status)
	}
	var entries []ResourceEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, fmt.Errorf("decode resource list %s: %w", deviceID, err)
	}
	return entries, nil
}

// BulkSubscribe asks the source cloud to notify on all endpoints and
// all resources (spec.md §4.4 "Bulk subscribe"). Success is HTTP 204.
func (c *Client) BulkSubscribe() error {
	body, _ := json.Marshal([]map[string]string{{"endpoint-name": "*"}})
	url := c.baseURL + "/v2/subscriptions"
	resp, err := c.http.Put(url, body, "application/json", c.apiKey)
	if err != nil {
		return fmt.Errorf("bulk subscribe: %w", err)
	}
	if resp.Status != 204 {
		return fmt.Errorf("bulk subscribe: unexpected status %d", resp.Status)
	}
	return nil
}

// Tenant returns the current account (spec.md §4.4 "Tenant").
func (c *Client) Tenant() (*Account, error) {
	url := c.baseURL + "/v3/accounts/me"
	resp, err := c.http.Get(url, c.apiKey)
	if err != nil {
		return nil, fmt.Errorf("tenant: %w", err)
	}
	if resp.Status != 200 {
		return nil, fmt.Errorf("tenant: unexpected status %d", resp.Status)
	}
	var acct Account
	if err := json.Unmarshal(resp.Body, &acct); err != nil {
		return nil, fmt.Errorf("decode tenant: %w", err)
	}
	return &acct, nil
}

// deviceRequestBody is the body sent to /v2/device-requests/<id>.
type deviceRequestBody struct {
	Method    string `json:"method"`
	URI       string `json:"uri"`
	PayloadB64 string `json:"payload-b64"`
}

// asyncResponse is the synthetic body returned for a queued device
// request (spec.md §4.4).
type asyncResponse struct {
	AsyncResponseID string `json:"async-response-id"`
}

// DeviceRequest issues a CoAP verb against a device. If c's
// EnableDeviceRequestAPI is set, it uses the queued device-request
// form (POST /v2/device-requests/<id>?async-id=<uuid>) and returns a
// synthetic {"async-response-id": <uuid>} body; otherwise it issues
// the direct form (<verb> /v2/endpoints/<id><uri>?<options>) and
// returns the upstream body unmodified (spec.md §4.4).
func (c *Client) DeviceRequest(method, deviceID, uri, options, payloadB64 string) (status int, body []byte, err error) {
	if c.enableDeviceRequestAPI {
		asyncUUID, err := uuid.NewUUID()
		if err != nil {
			return 0, nil, fmt.Errorf("generate async id: %w", err)
		}
		asyncID := asyncUUID.String()
		reqBody, _ := json.Marshal(deviceRequestBody{Method: method, URI: uri, PayloadB64: payloadB64})
		url := fmt.Sprintf("%s/v2/device-requests/%s?async-id=%s", c.baseURL, deviceID, asyncID)
		resp, err := c.http.Post(url, reqBody, "application/json", c.apiKey)
		if err != nil {
			return 0, nil, fmt.Errorf("device request %s %s: %w", method, uri, err)
		}
		synth, _ := json.Marshal(asyncResponse{AsyncResponseID: asyncID})
		klog.V(4).Infof("queued device request %s for %s%s, async-id=%s (upstream status %d)", method, deviceID, uri, asyncID, resp.Status)
		return resp.Status, synth, nil
	}

	url := fmt.Sprintf("%s/v2/endpoints/%s%s", c.baseURL, deviceID, uri)
	if options != "" {
		url += "?" + options
	}
	var resp *httpclient.Response
	switch method {
	case "GET":
		resp, err = c.http.Get(url, c.apiKey)
	case "PUT":
		resp, err = c.http.Put(url, []byte(payloadB64), "application/json", c.apiKey)
	case "POST":
		resp, err = c.http.Post(url, []byte(payloadB64), "application/json", c.apiKey)
	case "DELETE":
		resp, err = c.http.Delete(url, c.apiKey)
	default:
		return 0, nil, fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("direct device request %s %s: %w", method, uri, err)
	}
	return resp.Status, resp.Body, nil
}
