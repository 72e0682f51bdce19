package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	ports := PortRange{RTP: 10014, RTCP: 10015}

	cases := []struct {
		name     string
		variants []Variant
		want     string
	}{
		{
			name:     "tcp keeps trailing space",
			variants: []Variant{VariantRTPAVPTCP},
			want:     "RTP/AVP/TCP;unicast;interleaved=0-1 ",
		},
		{
			name:     "udp",
			variants: []Variant{VariantRTPAVPUDP},
			want:     "RTP/AVP;unicast;destination=10.0.0.5;client_port=10014-10015",
		},
		{
			name:     "ordered list",
			variants: []Variant{VariantTSOverTCP, VariantRTPOverUDP},
			want:     "MP2T/TCP;unicast;interleaved=0-1, MP2T/RTP/UDP;unicast;destination=10.0.0.5;client_port=10014-10015",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Negotiate(tc.variants, "10.0.0.5", ports)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNegotiateErrors(t *testing.T) {
	_, err := Negotiate(nil, "", PortRange{})
	assert.ErrorIs(t, err, ErrNoVariants)

	_, err = Negotiate([]Variant{"carrier_pigeon"}, "", PortRange{})
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestParseVariants(t *testing.T) {
	got, err := ParseVariants("rtp_avp_udp, RTP-AVP-TCP")
	require.NoError(t, err)
	assert.Equal(t, []Variant{VariantRTPAVPUDP, VariantRTPAVPTCP}, got)

	_, err = ParseVariants("")
	assert.ErrorIs(t, err, ErrNoVariants)

	_, err = ParseVariants("rtp_avp_udp,bogus")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestParsePortRange(t *testing.T) {
	p, err := ParsePortRange("10014-10015")
	require.NoError(t, err)
	assert.Equal(t, PortRange{RTP: 10014, RTCP: 10015}, p)
	assert.Equal(t, "10014-10015", p.String())

	p, err = ParsePortRange("5000")
	require.NoError(t, err)
	assert.Equal(t, PortRange{RTP: 5000, RTCP: 5001}, p)

	_, err = ParsePortRange("a-b")
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	h, err := Parse([]string{"RTP/AVP;unicast;client_port=10014-10015;server_port=6970-6971;ssrc=1A2B3C4D;mode=\"PLAY\""})
	require.NoError(t, err)
	require.Len(t, h.Options(), 1)

	opt := h.Options()[0]
	assert.True(t, opt.IsUnicast())
	assert.Equal(t, ProfileRTP, opt.Profile())
	assert.Equal(t, ProtocolUDP, opt.Protocol())

	p, ok := opt.Parameter(ServerPort(nil))
	require.True(t, ok)
	assert.Equal(t, ServerPort{6970, 6971}, p)

	p, ok = opt.Parameter(SSRC(0))
	require.True(t, ok)
	assert.Equal(t, SSRC(0x1A2B3C4D), p)

	p, ok = opt.Parameter(Mode(""))
	require.True(t, ok)
	assert.Equal(t, Mode("PLAY"), p)
}

func TestParseInterleavedTCP(t *testing.T) {
	h, err := Parse([]string{"RTP/AVP/TCP;unicast;interleaved=0-1"})
	require.NoError(t, err)

	opt := h.Options()[0]
	assert.Equal(t, ProtocolTCP, opt.Protocol())
	p, ok := opt.Parameter(Interleaved(nil))
	require.True(t, ok)
	assert.Equal(t, Interleaved{0, 1}, p)
	assert.Equal(t, "RTP/AVP/TCP;unicast;interleaved=0-1", opt.String())
}

func TestParseMultipleOptions(t *testing.T) {
	h, err := Parse([]string{"MP2T/TCP;unicast;interleaved=0-1, RTP/AVP;unicast;client_port=1-2"})
	require.NoError(t, err)
	require.Len(t, h.Options(), 2)
	assert.Equal(t, ProfileTS, h.Options()[0].Profile())
	assert.Equal(t, ProfileRTP, h.Options()[1].Profile())
}

func TestParseRejectsUnknownProfile(t *testing.T) {
	_, err := Parse([]string{"RAW/RAW/UDP;unicast"})
	assert.ErrorIs(t, err, ErrUnsupportedTransport)

	_, err = Parse(nil)
	assert.Error(t, err)
}
