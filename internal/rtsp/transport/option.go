package transport

import "strings"

type option struct {
	unicast  bool
	profile  string
	protocol Protocol
	params   []Parameter
}

func (o *option) Profile() string {
	return o.profile
}

func (o *option) Protocol() Protocol {
	return o.protocol
}

func (o *option) IsUnicast() bool {
	return o.unicast
}

func (o *option) Parameters() []Parameter {
	return o.params
}

// Parameter returns the first parameter of the same type as like.
func (o *option) Parameter(like Parameter) (Parameter, bool) {
	for _, p := range o.params {
		if sameKind(p, like) {
			return p, true
		}
	}
	return nil, false
}

func (o *option) String() string {
	segments := []string{o.profile}
	switch {
	case o.protocol == ProtocolTCP:
		segments[0] += "/TCP"
	case o.profile != ProfileRTP:
		segments[0] += "/UDP"
	}
	if o.unicast {
		segments = append(segments, "unicast")
	}

	for _, param := range o.params {
		segments = append(segments, param.String())
	}

	return strings.Join(segments, ";")
}

func sameKind(a, b Parameter) bool {
	switch a.(type) {
	case Destination:
		_, ok := b.(Destination)
		return ok
	case Source:
		_, ok := b.(Source)
		return ok
	case Interleaved:
		_, ok := b.(Interleaved)
		return ok
	case ClientPort:
		_, ok := b.(ClientPort)
		return ok
	case ServerPort:
		_, ok := b.(ServerPort)
		return ok
	case Port:
		_, ok := b.(Port)
		return ok
	case SSRC:
		_, ok := b.(SSRC)
		return ok
	case Mode:
		_, ok := b.(Mode)
		return ok
	case TTL:
		_, ok := b.(TTL)
		return ok
	case Layers:
		_, ok := b.(Layers)
		return ok
	case Append:
		_, ok := b.(Append)
		return ok
	}
	return false
}
