package transport

import "errors"

type Protocol string

const (
	ProtocolUDP Protocol = "UDP"
	ProtocolTCP Protocol = "TCP"
)

const (
	ProfileRTP      = "RTP/AVP"
	ProfileTS       = "MP2T"
	ProfileTSOverRT = "MP2T/RTP"
)

var (
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrUnknownVariant       = errors.New("unknown transport variant")
	ErrNoVariants           = errors.New("no transport variants requested")
)

type Header interface {
	Options() []Option
}

type Option interface {
	IsUnicast() bool
	Profile() string
	Protocol() Protocol
	Parameters() []Parameter
	Parameter(like Parameter) (Parameter, bool)
	String() string
}

type Parameter interface {
	String() string
}

type header struct {
	options []Option
}

func (h *header) Options() []Option {
	return h.options
}
