package sourcecloud

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeedge/shadow-bridge/pkg/httpclient"
)

// fakeHTTP is a scripted httpclient.Client for exercising pagination
// and verb dispatch without a network.
type fakeHTTP struct {
	getResponses    map[string]httpclient.Response
	putResponses    map[string]httpclient.Response
	postResponses   map[string]httpclient.Response
	deleteResponses map[string]httpclient.Response
	lastStatus      int
	postBodies      map[string][]byte
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		getResponses:    map[string]httpclient.Response{},
		putResponses:    map[string]httpclient.Response{},
		postResponses:   map[string]httpclient.Response{},
		deleteResponses: map[string]httpclient.Response{},
		postBodies:      map[string][]byte{},
	}
}

func (f *fakeHTTP) Get(url string, bearer string) (*httpclient.Response, error) {
	r := f.getResponses[url]
	f.lastStatus = r.Status
	return &r, nil
}
func (f *fakeHTTP) Put(url string, body []byte, contentType, bearer string) (*httpclient.Response, error) {
	r := f.putResponses[url]
	f.lastStatus = r.Status
	return &r, nil
}
func (f *fakeHTTP) Post(url string, body []byte, contentType, bearer string) (*httpclient.Response, error) {
	f.postBodies[url] = body
	r := f.postResponses[url]
	f.lastStatus = r.Status
	return &r, nil
}
func (f *fakeHTTP) Delete(url string, bearer string) (*httpclient.Response, error) {
	r := f.deleteResponses[url]
	f.lastStatus = r.Status
	return &r, nil
}
func (f *fakeHTTP) LastStatus() int { return f.lastStatus }

func TestDiscoverRegisteredDevicesCombinesPages(t *testing.T) {
	fake := newFakeHTTP()
	page1, _ := json.Marshal(discoveryPage{
		Data:    []DeviceSummary{{ID: "a", State: "registered"}, {ID: "b", State: "registered"}},
		HasMore: true,
	})
	page2, _ := json.Marshal(discoveryPage{
		Data:    []DeviceSummary{{ID: "c", State: "registered"}},
		HasMore: false,
	})
	fake.getResponses["https://api.example.com/v3/devices?filter=state=registered&limit=2&order=ASC"] = httpclient.Response{Body: page1, Status: 200}
	fake.getResponses["https://api.example.com/v3/devices?filter=state=registered&limit=2&order=ASC&after=b"] = httpclient.Response{Body: page2, Status: 200}

	c := New(fake, "https://api.example.com", "key", 2, false)
	devices, err := c.DiscoverRegisteredDevices()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "a", devices[0].ID)
	assert.Equal(t, "c", devices[2].ID)
}

func TestBulkSubscribeRequiresNoContent(t *testing.T) {
	fake := newFakeHTTP()
	fake.putResponses["https://api.example.com/v2/subscriptions"] = httpclient.Response{Status: 204}
	c := New(fake, "https://api.example.com", "key", 100, false)
	require.NoError(t, c.BulkSubscribe())

	fake.putResponses["https://api.example.com/v2/subscriptions"] = httpclient.Response{Status: 500}
	assert.Error(t, c.BulkSubscribe())
}

func TestDeviceRequestDirectForm(t *testing.T) {
	fake := newFakeHTTP()
	fake.getResponses["https://api.example.com/v2/endpoints/dev1/3/0/1"] = httpclient.Response{Status: 200, Body: []byte(`"payload"`)}
	c := New(fake, "https://api.example.com", "key", 100, false)

	status, body, err := c.DeviceRequest("GET", "dev1", "/3/0/1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, `"payload"`, string(body))
}

func TestDeviceRequestQueuedFormSynthesizesAsyncID(t *testing.T) {
	fake := newFakeHTTP()
	for url := range fake.postResponses {
		_ = url
	}
	c := New(fake, "https://api.example.com", "key", 100, true)

	// The queued form posts to a URL containing a fresh async-id; match
	// any POST by pre-seeding a catch-all after the call fails once is
	// impractical with this fake, so seed the exact URL is not needed:
	// fakeHTTP returns the zero Response for unmatched URLs, which is
	// status 0 and a nil body — enough to exercise the synthesis path.
	status, body, err := c.DeviceRequest("PUT", "dev1", "/3/0/1", "", "AQI=")
	require.NoError(t, err)
	_ = status

	var resp asyncResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.NotEmpty(t, resp.AsyncResponseID)
}
