package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionStringTotal(t *testing.T) {
	valid := "HostName=my-hub.azure-devices.net;SharedAccessKeyName=iothubowner;SharedAccessKey=" + "c2VjcmV0"
	elems := ParseConnectionString(valid)
	require.NotNil(t, elems)
	assert.Equal(t, "my-hub.azure-devices.net", elems["HostName"])
	assert.Equal(t, "iothubowner", elems["SharedAccessKeyName"])
	assert.Equal(t, "c2VjcmV0", elems["SharedAccessKey"])
}

func TestParseConnectionStringMissingKeyIsNil(t *testing.T) {
	missingKeyName := "HostName=my-hub.azure-devices.net;SharedAccessKey=c2VjcmV0"
	assert.Nil(t, ParseConnectionString(missingKeyName))
	assert.Nil(t, ParseConnectionString(""))
}

func TestHostNameStripsAzureSuffix(t *testing.T) {
	cs := "HostName=my-hub.azure-devices.net;SharedAccessKeyName=kn;SharedAccessKey=c2VjcmV0"
	assert.Equal(t, "my-hub", HostNameFromConnectionString(cs))
}

func TestCreateSASTokenShape(t *testing.T) {
	cs := "HostName=my-hub.azure-devices.net;SharedAccessKeyName=iothubowner;SharedAccessKey=c2VjcmV0"
	token, err := CreateSASToken(cs, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, token, "SharedAccessSignature sr=")
	assert.Contains(t, token, "&sig=")
	assert.Contains(t, token, "&se=")
	assert.Contains(t, token, "&skn=iothubowner")
}

func TestCreateSASTokenRejectsMalformedInput(t *testing.T) {
	_, err := CreateSASToken("garbage", time.Hour)
	assert.Error(t, err)
}

func TestServiceStaticTokenSkipsRefresh(t *testing.T) {
	s := NewService("", "static-token-value", 0, 0)
	require.NoError(t, s.Start())
	defer s.Stop()

	cred := s.Current()
	assert.Equal(t, KindStatic, cred.Kind)
	assert.Equal(t, "static-token-value", cred.Value)
}

func TestServiceDerivesInitialToken(t *testing.T) {
	cs := "HostName=my-hub.azure-devices.net;SharedAccessKeyName=iothubowner;SharedAccessKey=c2VjcmV0"
	s := NewService(cs, "", time.Hour, 30*time.Minute)
	require.NoError(t, s.Start())
	defer s.Stop()

	cred := s.Current()
	assert.Equal(t, KindSASToken, cred.Kind)
	assert.NotEmpty(t, cred.Value)
}
