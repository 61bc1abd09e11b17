package notification

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeedge/shadow-bridge/pkg/events"
	"github.com/kubeedge/shadow-bridge/pkg/httpclient"
)

type fakeCallbackHTTP struct {
	stored callbackDescriptor
	putErr bool
}

func (f *fakeCallbackHTTP) Get(url string, bearer string) (*httpclient.Response, error) {
	body, _ := json.Marshal(f.stored)
	return &httpclient.Response{Body: body, Status: 200}, nil
}
func (f *fakeCallbackHTTP) Put(url string, body []byte, contentType, bearer string) (*httpclient.Response, error) {
	if f.putErr {
		return &httpclient.Response{Status: 500}, nil
	}
	json.Unmarshal(body, &f.stored)
	return &httpclient.Response{Status: 200}, nil
}
func (f *fakeCallbackHTTP) Post(url string, body []byte, contentType, bearer string) (*httpclient.Response, error) {
	return &httpclient.Response{Status: 200}, nil
}
func (f *fakeCallbackHTTP) Delete(url string, bearer string) (*httpclient.Response, error) {
	return &httpclient.Response{Status: 200}, nil
}
func (f *fakeCallbackHTTP) LastStatus() int { return 200 }

func TestWebhookEstablishSucceeds(t *testing.T) {
	fake := &fakeCallbackHTTP{}
	w := NewWebhook(WebhookSetup{HTTP: fake, BaseURL: "https://api.example.com", APIKey: "key"}, "https://bridge.example.com/cb", "secret", 3, time.Millisecond, false, nil, nil)
	require.NoError(t, w.Establish())
	assert.Equal(t, "https://bridge.example.com/cb", fake.stored.URL)
}

func TestWebhookEstablishResetsOnTerminalFailure(t *testing.T) {
	fake := &fakeCallbackHTTP{putErr: true}
	resetCalled := false
	w := NewWebhook(WebhookSetup{HTTP: fake, BaseURL: "https://api.example.com", APIKey: "key"}, "https://bridge.example.com/cb", "secret", 2, time.Millisecond, false, nil, func() { resetCalled = true })
	require.Error(t, w.Establish())
	assert.True(t, resetCalled)
}

func TestWebhookHandlerAlwaysAcksAndDispatches(t *testing.T) {
	var got events.Event
	sink := func(evt events.Event) { got = evt }
	w := NewWebhook(WebhookSetup{}, "https://bridge.example.com/cb", "secret", 1, time.Millisecond, true, sink, nil)

	router := mux.NewRouter()
	w.RegisterRoute(router, "/callback")

	req := httptest.NewRequest("POST", "/callback", strings.NewReader(`{"notifications":[{"ep":"dev1","path":"/3/0/1","payload":"QQ==","ct":"0"}]}`))
	rw := httptest.NewRecorder()
	router.ServeHTTP(rw, req)

	assert.Equal(t, 200, rw.Code)
	assert.Equal(t, "{}", rw.Body.String())
	assert.Equal(t, events.KindNotification, got.Kind)
}
