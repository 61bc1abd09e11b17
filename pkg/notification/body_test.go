package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeedge/shadow-bridge/pkg/events"
)

func TestDecodeDispatchesInOrder(t *testing.T) {
	body := []byte(`{
		"notifications": [{"ep":"dev1","path":"/3/0/1","payload":"QQ==","ct":"0"}],
		"registrations": [{"ep":"dev2","ept":"default","resources":[{"path":"/3/0","rt":"","obs":false,"type":""}]}],
		"reg-updates": [{"ep":"dev3","ept":"default"}],
		"de-registrations": ["dev4"],
		"registrations-expired": ["dev5"],
		"async-responses": [{"id":"abc","status":200,"payload":"AQI="}]
	}`)

	var kinds []events.Kind
	var d Dedup
	ok := d.Decode(body, func(evt events.Event) { kinds = append(kinds, evt.Kind) })

	require.True(t, ok)
	assert.Equal(t, []events.Kind{
		events.KindNotification,
		events.KindRegistration,
		events.KindReRegistration,
		events.KindDeregistration,
		events.KindRegistrationsExpired,
		events.KindAsyncResponse,
	}, kinds)
}

func TestDecodeDropsByteIdenticalLifecycleDuplicate(t *testing.T) {
	body := []byte(`{"de-registrations":["dev1"]}`)
	var d Dedup
	var calls int
	sink := func(evt events.Event) { calls++ }

	require.True(t, d.Decode(body, sink))
	assert.False(t, d.Decode(body, sink))
	assert.Equal(t, 1, calls)
}

func TestDecodeNeverDropsTelemetryDuplicates(t *testing.T) {
	body := []byte(`{"notifications":[{"ep":"dev1","path":"/3/0/1","payload":"QQ==","ct":"0"}]}`)
	var d Dedup
	var calls int
	sink := func(evt events.Event) { calls++ }

	require.True(t, d.Decode(body, sink))
	require.True(t, d.Decode(body, sink))
	assert.Equal(t, 2, calls)
}
