package accesskey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	return []byte("01234567890123456789012345678901") // 32 bytes
}

func TestEncodeParse_RoundTrip(t *testing.T) {
	path := "/webhooks/incoming"
	original := AccessKey{
		Environment: EnvironmentLive,
		EventType:   EventTypeSecretKey,
		Version:     "v1",
		Data: Data{
			ID:        "abc123",
			Group:     "acme-corp",
			EventPath: &path,
		},
	}

	encoded, err := Encode(original, testSecret())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "live_secret_key_v1_"))

	decoded, err := Parse(encoded, testSecret())
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestEncode_DistinctCiphertextsEachCall(t *testing.T) {
	ak := AccessKey{Environment: EnvironmentTest, EventType: EventTypeID, Version: "v1", Data: Data{ID: "x", Group: "y"}}

	first, err := Encode(ak, testSecret())
	require.NoError(t, err)
	second, err := Encode(ak, testSecret())
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "fresh IV per call should vary ciphertext")
}

func TestEncode_RejectsShortSecret(t *testing.T) {
	ak := AccessKey{Environment: EnvironmentLive, EventType: EventTypeID, Data: Data{ID: "a", Group: "b"}}
	_, err := Encode(ak, []byte("tooshort"))
	assert.Error(t, err)
}

func TestParse_RejectsMalformedEnvelope(t *testing.T) {
	_, err := Parse("not-enough-parts", testSecret())
	assert.Error(t, err)
}

func TestParse_RejectsWrongSecret(t *testing.T) {
	ak := AccessKey{Environment: EnvironmentLive, EventType: EventTypeSecretKey, Version: "v1", Data: Data{ID: "a", Group: "b"}}
	encoded, err := Encode(ak, testSecret())
	require.NoError(t, err)

	wrongSecret := []byte("98765432109876543210987654321098")
	_, err = Parse(encoded, wrongSecret)
	assert.Error(t, err)
}
