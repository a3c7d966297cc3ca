package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/pairing"
)

// newTestResponder runs a responder on an ephemeral loopback socket and
// returns its address for the locator to target directly.
func newTestResponder(t *testing.T, registry *pairing.Registry) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	r := NewResponder(registry, conn)
	t.Cleanup(r.Stop)
	return conn.LocalAddr().String()
}

func TestLocateResolvesLiveCode(t *testing.T) {
	registry := pairing.NewRegistry(0)
	code, err := registry.Publish(pairing.Endpoint{Host: "192.168.1.40", Port: 50013})
	require.NoError(t, err)

	target := newTestResponder(t, registry)
	locator := NewLocator(2*time.Second, target)

	ep, err := locator.Locate(code)
	require.NoError(t, err)
	assert.Equal(t, 50013, ep.Port)
	// The host comes from the reply's source address, not the registry.
	assert.Equal(t, "127.0.0.1", ep.Host)
}

func TestLocateInvalidCodeFailsWithoutNetwork(t *testing.T) {
	// Target points nowhere; validation must reject before any I/O.
	locator := NewLocator(50*time.Millisecond, "127.0.0.1:1")

	start := time.Now()
	_, err := locator.Locate("12ab56789")
	assert.ErrorIs(t, err, pairing.ErrInvalidCode)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestLocateUnknownCodeTimesOut(t *testing.T) {
	registry := pairing.NewRegistry(0)
	target := newTestResponder(t, registry)
	locator := NewLocator(300*time.Millisecond, target)

	start := time.Now()
	_, err := locator.Locate("123456789")
	assert.ErrorIs(t, err, ErrCodeNotFound)
	// Bounded: fails shortly after the timeout, never hangs.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLocateToleratesDuplicateReplies(t *testing.T) {
	// Two responders share the registry, so every lookup gets two
	// identical offers. Locate must still return exactly one endpoint.
	registry := pairing.NewRegistry(0)
	code, err := registry.Publish(pairing.Endpoint{Host: "192.168.1.40", Port: 50021})
	require.NoError(t, err)

	first := newTestResponder(t, registry)
	second := newTestResponder(t, registry)
	locator := NewLocator(2*time.Second, first, second)

	ep, err := locator.Locate(code)
	require.NoError(t, err)
	assert.Equal(t, 50021, ep.Port)
}

func TestLocateIgnoresOffersForOtherCodes(t *testing.T) {
	registry := pairing.NewRegistry(0)
	_, err := registry.Publish(pairing.Endpoint{Host: "192.168.1.40", Port: 50021})
	require.NoError(t, err)

	target := newTestResponder(t, registry)
	locator := NewLocator(300*time.Millisecond, target)

	// Valid format, but not the published code.
	_, err = locator.Locate("000000001")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestOfferPayloadRoundTrip(t *testing.T) {
	code, port, err := parseOffer(offerPayload("123456789", 50999))
	require.NoError(t, err)
	assert.Equal(t, "123456789", code)
	assert.Equal(t, 50999, port)
}

func TestParseOfferRejectsShortPayload(t *testing.T) {
	_, _, err := parseOffer([]byte("12345"))
	assert.Error(t, err)
}

func TestAdvertisedHost(t *testing.T) {
	assert.Equal(t, "192.168.1.7", AdvertisedHost("192.168.1.7"))
	assert.NotEmpty(t, AdvertisedHost("0.0.0.0"))
	assert.NotEqual(t, "0.0.0.0", AdvertisedHost(""))
}
