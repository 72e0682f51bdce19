// Package rtsptest provides a scriptable RTSP server for session tests.
package rtsptest

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/pion/sdp/v3"

	"github.com/bilbercode/camwatch/internal/auth"
	"github.com/bilbercode/camwatch/internal/rtsp"
	"github.com/bilbercode/camwatch/internal/rtsp/transport"
)

const DefaultSessionID = "3984798345"

// Handler answers one request. Returning nil leaves the request unanswered.
type Handler func(req *rtsp.Request) *rtsp.Response

type Server struct {
	sync.Mutex
	listener    net.Listener
	handlers    map[rtsp.Method]Handler
	requests    []*rtsp.Request
	conns       map[net.Conn]*sync.Mutex
	description *sdp.SessionDescription
	digest      *digest
	wg          sync.WaitGroup
}

type digest struct {
	realm string
	nonce string
	creds auth.Credentials
}

func NewServer() (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &Server{
		listener: listener,
		conns:    make(map[net.Conn]*sync.Mutex),
		description: &sdp.SessionDescription{
			Version: 0,
			Origin: sdp.Origin{
				Username:       "-",
				SessionID:      0,
				SessionVersion: 0,
				NetworkType:    "IN",
				AddressType:    "IP4",
				UnicastAddress: "127.0.0.1",
			},
			SessionName: "camera",
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address: &sdp.Address{
					Address: "0.0.0.0",
				},
			},
			TimeDescriptions: []sdp.TimeDescription{
				{
					Timing: sdp.Timing{},
				},
			},
			Attributes: []sdp.Attribute{
				{
					Key:   "range",
					Value: "npt=now-",
				},
				{
					Key:   "control",
					Value: "*",
				},
			},
		},
	}
	s.handlers = map[rtsp.Method]Handler{
		rtsp.MethodOptions:      s.handleOptions,
		rtsp.MethodDescribe:     s.handleDescribe,
		rtsp.MethodSetup:        s.handleSetup,
		rtsp.MethodPlay:         s.handleSession,
		rtsp.MethodPause:        s.handleSession,
		rtsp.MethodGetParameter: s.handleGetParameter,
		rtsp.MethodTeardown:     s.handleSession,
	}
	s.SetTracks("trackID=1")

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns an rtsp URL for path on this server. userinfo may be empty.
func (s *Server) URL(userinfo, path string) string {
	if userinfo != "" {
		userinfo += "@"
	}
	return "rtsp://" + userinfo + s.Addr() + path
}

// Handle replaces the handler for method.
func (s *Server) Handle(method rtsp.Method, h Handler) {
	s.Lock()
	defer s.Unlock()
	s.handlers[method] = h
}

// SetTracks replaces the media sections of the description with one H.264
// video track per control value.
func (s *Server) SetTracks(controls ...string) {
	s.Lock()
	defer s.Unlock()
	s.description.MediaDescriptions = nil
	for _, c := range controls {
		s.description.MediaDescriptions = append(s.description.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "video",
				Port:    sdp.RangedPort{Value: 0},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{"96"},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: "96 H264/90000"},
				{Key: "control", Value: c},
			},
		})
	}
}

// RequireDigest challenges every request lacking a valid Digest
// Authorization for creds.
func (s *Server) RequireDigest(realm, nonce string, creds auth.Credentials) {
	s.Lock()
	defer s.Unlock()
	s.digest = &digest{realm: realm, nonce: nonce, creds: creds}
}

func (s *Server) Requests() []*rtsp.Request {
	s.Lock()
	defer s.Unlock()
	return append([]*rtsp.Request(nil), s.requests...)
}

func (s *Server) RequestsFor(method rtsp.Method) []*rtsp.Request {
	var out []*rtsp.Request
	for _, r := range s.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// Push writes raw bytes to every connected client.
func (s *Server) Push(raw []byte) error {
	s.Lock()
	defer s.Unlock()
	var errs []error
	for conn, mu := range s.conns {
		mu.Lock()
		_, err := conn.Write(raw)
		mu.Unlock()
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Announce pushes an ANNOUNCE carrying the given x-notice value.
func (s *Server) Announce(notice string) error {
	var buf strings.Builder
	req := &rtsp.Request{
		Method:   rtsp.MethodAnnounce,
		URL:      "rtsp://" + s.Addr() + "/",
		Sequence: 1,
		Header:   http.Header{"x-notice": {notice}},
	}
	if err := req.Write(&buf); err != nil {
		return err
	}
	return s.Push([]byte(buf.String()))
}

// ConnCount is the number of client connections accepted so far and still open.
func (s *Server) ConnCount() int {
	s.Lock()
	defer s.Unlock()
	return len(s.conns)
}

func (s *Server) Close() error {
	err := s.listener.Close()
	s.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.Lock()
		s.conns[nc] = &sync.Mutex{}
		s.Unlock()

		s.wg.Add(1)
		go s.handle(nc)
	}
}

func (s *Server) handle(nc net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.Lock()
		delete(s.conns, nc)
		s.Unlock()
		_ = nc.Close()
	}()

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := nc.Read(chunk)
		buf = append(buf, chunk[:n]...)
		for {
			msg, rest, ok, perr := rtsp.ExtractMessage(buf)
			if perr != nil || !ok {
				break
			}
			buf = append([]byte(nil), rest...)

			req, perr := rtsp.ParseRequest(msg)
			if perr != nil {
				return
			}
			s.respond(nc, req)
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) respond(nc net.Conn, req *rtsp.Request) {
	s.Lock()
	s.requests = append(s.requests, req)
	h, ok := s.handlers[req.Method]
	d := s.digest
	mu := s.conns[nc]
	s.Unlock()

	var resp *rtsp.Response
	switch {
	case d != nil && !d.authorized(req):
		resp = &rtsp.Response{
			Code: http.StatusUnauthorized,
			Header: http.Header{
				"WWW-Authenticate": {fmt.Sprintf(`Digest realm="%s", nonce="%s"`, d.realm, d.nonce)},
			},
		}
	case !ok:
		resp = unsupportedMethod()
	default:
		resp = h(req)
	}
	if resp == nil {
		return
	}

	resp.Sequence = req.Sequence
	mu.Lock()
	defer mu.Unlock()
	_ = resp.Write(nc)
}

func (d *digest) authorized(req *rtsp.Request) bool {
	value := req.Header.Get("Authorization")
	if value == "" {
		return false
	}
	ch, err := auth.ParseChallenge(value)
	if err != nil {
		return false
	}
	uri := req.URL
	if i := strings.Index(uri, "://"); i >= 0 {
		if j := strings.Index(uri[i+3:], "/"); j >= 0 {
			uri = uri[i+3+j:]
		}
	}
	want := auth.DigestResponse(d.creds, d.realm, d.nonce, req.Method.String(), uri)
	return strings.Contains(value, `response="`+want+`"`) && ch.Nonce == d.nonce
}

func (s *Server) handleOptions(req *rtsp.Request) *rtsp.Response {
	return &rtsp.Response{
		Code: http.StatusOK,
		Header: http.Header{
			"Public": {"DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN, GET_PARAMETER"},
		},
	}
}

func (s *Server) handleDescribe(req *rtsp.Request) *rtsp.Response {
	if accept := req.Header.Get("Accept"); accept != "" && accept != "application/sdp" {
		return &rtsp.Response{Code: http.StatusNotAcceptable}
	}

	s.Lock()
	body, err := s.description.Marshal()
	s.Unlock()
	if err != nil {
		return &rtsp.Response{Code: http.StatusInternalServerError}
	}

	return &rtsp.Response{
		Code: http.StatusOK,
		Header: http.Header{
			"Content-Type": {"application/sdp"},
			"Content-Base": {req.URL + "/"},
		},
		Body: body,
	}
}

func (s *Server) handleSetup(req *rtsp.Request) *rtsp.Response {
	values := req.Header.Values("Transport")
	if len(values) == 0 {
		return &rtsp.Response{Code: rtsp.StatusUnsupportedTransport}
	}

	ts, err := transport.Parse(values)
	switch {
	case errors.Is(err, transport.ErrUnsupportedTransport):
		return &rtsp.Response{Code: rtsp.StatusUnsupportedTransport}
	case err != nil:
		return &rtsp.Response{Code: http.StatusBadRequest}
	}

	reply := ts.Options()[0].String()
	if ts.Options()[0].Protocol() == transport.ProtocolUDP {
		reply += ";" + transport.ServerPort{6970, 6971}.String()
	}
	return &rtsp.Response{
		Code: http.StatusOK,
		Header: http.Header{
			"Session":   {DefaultSessionID + ";timeout=60"},
			"Transport": {reply},
		},
	}
}

func (s *Server) handleSession(req *rtsp.Request) *rtsp.Response {
	if req.Header.Get("Session") == "" {
		return &rtsp.Response{Code: rtsp.StatusSessionNotFound}
	}
	header := http.Header{"Session": {req.Header.Get("Session")}}
	if req.Method == rtsp.MethodPlay {
		header["Range"] = []string{req.Header.Get("Range")}
	}
	return &rtsp.Response{Code: http.StatusOK, Header: header}
}

func (s *Server) handleGetParameter(req *rtsp.Request) *rtsp.Response {
	return &rtsp.Response{
		Code:   http.StatusOK,
		Header: http.Header{"Session": {req.Header.Get("Session")}},
	}
}

func unsupportedMethod() *rtsp.Response {
	options := []string{
		rtsp.MethodDescribe.String(),
		rtsp.MethodGetParameter.String(),
		rtsp.MethodSetup.String(),
		rtsp.MethodPlay.String(),
		rtsp.MethodPause.String(),
		rtsp.MethodTeardown.String(),
	}
	return &rtsp.Response{
		Code:   http.StatusMethodNotAllowed,
		Header: http.Header{"Allow": {strings.Join(options, ", ")}},
	}
}
