package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWellKnownDisplay(t *testing.T) {
	assert.Equal(t, "@@any", ANY.String())
	assert.Equal(t, "@@any/*", ANYAllInstances.String())
	assert.Equal(t, "@@local", LOCAL.String())
	assert.Equal(t, "@@local/*", LOCALAllInstances.String())
}

func TestPersonRoundTrip(t *testing.T) {
	e, err := NewPerson("ben", InstanceAny)
	require.NoError(t, err)
	assert.Equal(t, "@ben", e.String())

	parsed, err := FromString(e.String())
	require.NoError(t, err)
	assert.Equal(t, e, parsed)
}

func TestInstitutionWithInstanceRoundTrip(t *testing.T) {
	e, err := NewInstitution("acme-corp", 7)
	require.NoError(t, err)
	assert.Equal(t, "@+acme-corp/7", e.String())

	parsed, err := FromString(e.String())
	require.NoError(t, err)
	assert.Equal(t, e, parsed)
}

func TestAllInstancesRoundTrip(t *testing.T) {
	e, err := NewPerson("lea", InstanceAll)
	require.NoError(t, err)
	assert.Equal(t, "@lea/*", e.String())

	parsed, err := FromString(e.String())
	require.NoError(t, err)
	assert.Equal(t, InstanceAll, parsed.Instance)
}

func TestNameLengthBounds(t *testing.T) {
	_, err := NewPerson("ab", InstanceAny)
	assert.ErrorIs(t, err, ErrMinLengthNotMet)

	_, err = NewPerson("this-name-is-definitely-too-long", InstanceAny)
	assert.ErrorIs(t, err, ErrMaxLengthExceeded)
}

func TestInvalidCharset(t *testing.T) {
	_, err := NewPerson("Ben!", InstanceAny)
	assert.ErrorIs(t, err, ErrInvalidChars)
}

func TestInvalidInstanceRejectedByFromString(t *testing.T) {
	_, err := FromString("@ben/65535000")
	assert.Error(t, err)
}

func TestBinaryRoundTrip(t *testing.T) {
	e, err := NewInstitution("acme", 42)
	require.NoError(t, err)

	bin := e.ToBinary()
	assert.Len(t, bin, 21)

	decoded, err := FromBinary(bin[:])
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestAnyInstanceHelper(t *testing.T) {
	e, err := NewPerson("ben", 5)
	require.NoError(t, err)
	assert.Equal(t, InstanceAny, e.AnyInstance().Instance)
	assert.Equal(t, InstanceAll, e.AllInstances().Instance)
}

func TestAnonymousHexRoundTrip(t *testing.T) {
	_, err := NewAnonymous("00112233445566778899aabbccddeeff0011223", InstanceAny)
	assert.Error(t, err) // wrong length hex

	hex36 := "001122334455667788990011223344556677"
	e, err := NewAnonymous(hex36, InstanceAny)
	require.NoError(t, err)

	parsed, err := FromString(e.String())
	require.NoError(t, err)
	assert.Equal(t, e, parsed)
}

func TestFromBinaryWrongLength(t *testing.T) {
	_, err := FromBinary([]byte{1, 2, 3})
	assert.Error(t, err)
}
