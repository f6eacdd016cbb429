package block

import (
	"testing"

	"github.com/datex-network/datex-hub/endpoint"
	"github.com/stretchr/testify/require"
)

func mustEndpoint(t *testing.T, name string) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.NewPerson(name, endpoint.InstanceAny)
	require.NoError(t, err)
	return e
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sender := mustEndpoint(t, "ben")
	receiver := mustEndpoint(t, "lea")

	b := &Block{
		Routing: RoutingHeader{
			Version:  1,
			TTL:      64,
			Distance: 0,
			Sender:   sender,
			Receivers: NewReceivers(receiver),
		},
		Header: BlockHeader{
			ContextID:           42,
			SectionIndex:        0,
			BlockNumber:         0,
			Type:                TypeRequest,
			EndOfSection:        true,
			CreationTimestampMS: 1234567890,
		},
		Body: []byte("hello datex"),
	}

	encoded, err := Encode(b)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, b.Routing.Sender, decoded.Routing.Sender)
	require.Equal(t, b.Routing.TTL, decoded.Routing.TTL)
	require.Equal(t, b.Header.ContextID, decoded.Header.ContextID)
	require.Equal(t, b.Body, decoded.Body)
	require.Equal(t, []endpoint.Endpoint{receiver}, decoded.Routing.Receivers.Endpoints)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestExtractLengthRequiresFiveBytes(t *testing.T) {
	_, err := ExtractLength([]byte{0x01, 0x64, 0x00})
	require.ErrorIs(t, err, ErrTooShort)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x00, 0, 0, 0})
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	sender := mustEndpoint(t, "ben")
	b := &Block{
		Routing: RoutingHeader{Sender: sender, Receivers: NewReceivers()},
		Header:  BlockHeader{Type: TypeData},
	}
	encoded, err := Encode(b)
	require.NoError(t, err)
	encoded = append(encoded, 0xFF) // corrupt: extra trailing byte not reflected in size
	_, err = Decode(encoded)
	require.ErrorIs(t, err, ErrMalformed)
}
