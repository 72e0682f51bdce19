package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse decodes Transport header values as sent back by a server in reply to
// SETUP. Each value may hold several comma separated options.
func Parse(values []string) (Header, error) {
	var opts []Option
	for _, value := range values {
		for _, o := range strings.Split(value, ",") {
			o = strings.TrimSpace(o)
			if o == "" {
				continue
			}
			opt, err := parseOption(o)
			if err != nil {
				return nil, err
			}
			opts = append(opts, opt)
		}
	}
	if len(opts) == 0 {
		return nil, errors.New("malformed transport header")
	}

	return &header{options: opts}, nil
}

func parseOption(in string) (Option, error) {
	parts := strings.Split(in, ";")
	opt := &option{}

	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	switch {
	case strings.HasSuffix(name, "/TCP"):
		opt.protocol = ProtocolTCP
		name = strings.TrimSuffix(name, "/TCP")
	case strings.HasSuffix(name, "/UDP"):
		opt.protocol = ProtocolUDP
		name = strings.TrimSuffix(name, "/UDP")
	default:
		opt.protocol = ProtocolUDP
	}
	switch name {
	case ProfileRTP, ProfileTS, ProfileTSOverRT:
		opt.profile = name
	default:
		return nil, ErrUnsupportedTransport
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "":
			continue
		case "unicast":
			opt.unicast = true
		case "multicast":
			continue
		case "destination":
			opt.params = append(opt.params, Destination(value))
		case "source":
			opt.params = append(opt.params, Source(value))
		case "interleaved":
			if !hasValue {
				return nil, errors.New(
					"malformed parameter interleaved expected at least one channel")
			}
			cb, err := parseRange(value)
			if err != nil {
				return nil, fmt.Errorf(
					"failed to parse channel for interleaved frame, received %s: %w", value, err)
			}
			opt.params = append(opt.params, Interleaved(cb))
		case "append":
			opt.params = append(opt.params, Append(""))
		case "ttl":
			seconds, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse TTL value: %w", err)
			}
			opt.params = append(opt.params, TTL(time.Second*time.Duration(seconds)))
		case "layers":
			layers, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse layers value: %w", err)
			}
			opt.params = append(opt.params, Layers(layers))
		case "client_port":
			cb, err := parseRange(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse client_port, received %s: %w", value, err)
			}
			opt.params = append(opt.params, ClientPort(cb))
		case "server_port":
			cb, err := parseRange(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse server_port, received %s: %w", value, err)
			}
			opt.params = append(opt.params, ServerPort(cb))
		case "port":
			cb, err := parseRange(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse port, received %s: %w", value, err)
			}
			opt.params = append(opt.params, Port(cb))
		case "ssrc":
			ssrc, err := strconv.ParseUint(strings.TrimSpace(value), 16, 32)
			if err != nil {
				return nil, fmt.Errorf("failed to parse ssrc value: %w", err)
			}
			opt.params = append(opt.params, SSRC(ssrc))
		case "mode":
			if !hasValue {
				return nil, errors.New("malformed parameter mode")
			}
			opt.params = append(opt.params, Mode(strings.Trim(value, `"`)))
		default:
			return nil, fmt.Errorf("unexpected parameter %s", part)
		}
	}
	return opt, nil
}

func parseRange(in string) ([]int, error) {
	if in == "" {
		return nil, errors.New("empty range")
	}
	var out []int
	for _, s := range strings.Split(in, "-") {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
