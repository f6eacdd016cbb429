package hub

import (
	"crypto/ed25519"
	"testing"

	"github.com/datex-network/datex-hub/block"
	"github.com/datex-network/datex-hub/hubconfig"
	"github.com/datex-network/datex-hub/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBlockRejectsUnsignedFromUntrustedSender(t *testing.T) {
	ben := mustEP(t, "ben")
	cfg := hubconfig.DefaultConfig()
	cfg.AllowUnsignedBlocks = false
	h := New(ben, cfg, observability.NopLogger{}, observability.NewMetrics(prometheus.NewRegistry()))

	lea := mustEP(t, "lea")
	b := &block.Block{
		Routing: block.RoutingHeader{Sender: lea, SignatureType: block.SignatureNone},
		Body:    []byte("hi"),
	}
	ok, err := h.validateBlock(b)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestValidateBlockAcceptsUnsignedFromTrustedSender(t *testing.T) {
	ben := mustEP(t, "ben")
	lea := mustEP(t, "lea")
	cfg := hubconfig.DefaultConfig()
	cfg.AllowUnsignedBlocks = false
	cfg.TrustedSenders = map[string]struct{}{lea.String(): {}}
	h := New(ben, cfg, observability.NopLogger{}, observability.NewMetrics(prometheus.NewRegistry()))

	b := &block.Block{
		Routing: block.RoutingHeader{Sender: lea, SignatureType: block.SignatureNone},
		Body:    []byte("hi"),
	}
	ok, err := h.validateBlock(b)
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestValidateBlockRejectsTamperedSignedBody(t *testing.T) {
	ben := mustEP(t, "ben")
	h := newTestHub(t, ben)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	h.SetSigningKey(priv)

	b := &block.Block{
		Routing: block.RoutingHeader{SignatureType: block.SignatureUnencrypted},
		Body:    []byte("original"),
	}
	h.prepareOwnBlock(b)
	require.NotNil(t, b.Signature)

	var wantPub [44]byte
	copy(wantPub[:], pub)
	require.Equal(t, wantPub, b.Signature.PubKey)

	b.Body = []byte("tampered")
	ok, err := h.validateBlock(b)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestValidateBlockAcceptsIntactSignedBody(t *testing.T) {
	ben := mustEP(t, "ben")
	h := newTestHub(t, ben)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	h.SetSigningKey(priv)

	b := &block.Block{
		Routing: block.RoutingHeader{SignatureType: block.SignatureUnencrypted},
		Body:    []byte("original"),
	}
	h.prepareOwnBlock(b)

	ok, err := h.validateBlock(b)
	assert.True(t, ok)
	assert.NoError(t, err)
}
