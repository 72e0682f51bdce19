package transport

import (
	"fmt"
	"strconv"
	"time"
)

type Destination string

func (p Destination) String() string {
	if p == "" {
		return "destination"
	}
	return "destination=" + string(p)
}

type Source string

func (p Source) String() string {
	return "source=" + string(p)
}

type Interleaved []int

func (p Interleaved) String() string {
	return "interleaved=" + portList(p)
}

type Append string

func (p Append) String() string {
	return "append"
}

type TTL time.Duration

func (p TTL) String() string {
	return fmt.Sprintf("ttl=%d", time.Duration(p)/time.Second)
}

type Layers int

func (p Layers) String() string {
	return fmt.Sprintf("layers=%d", p)
}

type Port []int

func (p Port) String() string {
	return "port=" + portList(p)
}

type ClientPort []int

func (p ClientPort) String() string {
	return "client_port=" + portList(p)
}

type ServerPort []int

func (p ServerPort) String() string {
	return "server_port=" + portList(p)
}

type SSRC uint32

func (p SSRC) String() string {
	return "ssrc=" + strconv.FormatUint(uint64(p), 16)
}

type Mode string

func (p Mode) String() string {
	return "mode=" + string(p)
}

func portList(p []int) string {
	switch len(p) {
	case 0:
		return ""
	case 1:
		return strconv.Itoa(p[0])
	default:
		return fmt.Sprintf("%d-%d", p[0], p[1])
	}
}
