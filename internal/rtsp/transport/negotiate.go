package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Variant is a requested transport, in order of preference.
type Variant string

const (
	VariantTSOverTCP  Variant = "ts_over_tcp"
	VariantRTPOverTCP Variant = "rtp_over_tcp"
	VariantRTPAVPTCP  Variant = "rtp_avp_tcp"
	VariantTSOverUDP  Variant = "ts_over_udp"
	VariantRTPOverUDP Variant = "rtp_over_udp"
	VariantRTPAVPUDP  Variant = "rtp_avp_udp"
)

const castUnicast = "unicast"

type template struct {
	format string
	udp    bool
}

// The rtp_avp_tcp form keeps its trailing space; some servers were observed
// to depend on it.
var templates = map[Variant]template{
	VariantTSOverTCP:  {format: "MP2T/TCP;%s;interleaved=0-1"},
	VariantRTPOverTCP: {format: "MP2T/RTP/TCP;%s;interleaved=0-1"},
	VariantRTPAVPTCP:  {format: "RTP/AVP/TCP;%s;interleaved=0-1 "},
	VariantTSOverUDP:  {format: "MP2T/UDP;%s;destination=%s;client_port=%s", udp: true},
	VariantRTPOverUDP: {format: "MP2T/RTP/UDP;%s;destination=%s;client_port=%s", udp: true},
	VariantRTPAVPUDP:  {format: "RTP/AVP;%s;destination=%s;client_port=%s", udp: true},
}

func (v Variant) Valid() bool {
	_, ok := templates[v]
	return ok
}

func (v Variant) IsUDP() bool {
	return templates[v].udp
}

// Negotiate builds the Transport request header value for the variants. The
// server picks the first one it supports, so order encodes preference.
func Negotiate(variants []Variant, destination string, clientPorts PortRange) (string, error) {
	if len(variants) == 0 {
		return "", ErrNoVariants
	}

	entries := make([]string, 0, len(variants))
	for _, v := range variants {
		t, ok := templates[v]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownVariant, v)
		}
		if t.udp {
			entries = append(entries, fmt.Sprintf(t.format, castUnicast, destination, clientPorts))
			continue
		}
		entries = append(entries, fmt.Sprintf(t.format, castUnicast))
	}
	return strings.Join(entries, ", "), nil
}

// ParseVariants reads a comma separated list such as "rtp_avp_udp,rtp_avp_tcp".
func ParseVariants(in string) ([]Variant, error) {
	var out []Variant
	for _, s := range strings.Split(in, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v := Variant(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
		if !v.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, s)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, ErrNoVariants
	}
	return out, nil
}

type PortRange struct {
	RTP  int
	RTCP int
}

func (p PortRange) String() string {
	return strconv.Itoa(p.RTP) + "-" + strconv.Itoa(p.RTCP)
}

func ParsePortRange(in string) (PortRange, error) {
	ports, err := parseRange(in)
	if err != nil {
		return PortRange{}, fmt.Errorf("failed to parse port range %q: %w", in, err)
	}
	switch len(ports) {
	case 1:
		return PortRange{RTP: ports[0], RTCP: ports[0] + 1}, nil
	case 2:
		return PortRange{RTP: ports[0], RTCP: ports[1]}, nil
	default:
		return PortRange{}, fmt.Errorf("failed to parse port range %q: too many ports", in)
	}
}
