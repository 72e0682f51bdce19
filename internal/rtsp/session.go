package rtsp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/camwatch/internal/auth"
	"github.com/bilbercode/camwatch/internal/rtsp/transport"
)

const (
	noticeEndOfStream   = 2101
	noticeBeginOfStream = 2102
	noticeClose         = 2103

	readBufferSize = 4096

	maxStoredResponses = 64
)

// Session is one RTSP control connection. A dedicated goroutine owns the read
// side of the socket; requests may be sent from any goroutine.
type Session struct {
	sync.RWMutex

	cfg  Config
	conn net.Conn

	base        string
	creds       auth.Credentials
	destination string
	transports  []transport.Variant

	cseq      int
	requests  map[int]*Request
	responses map[int]*Response
	replays   map[int]int
	discarded int
	lastSeq   int
	stopAfter int
	changed   chan struct{}

	challenge     *auth.Challenge
	authAttempted bool
	sessionID     string
	location      string
	tracks        []Track
	reply         transport.Header

	rng   string
	scale float64

	state       State
	subscribers map[string]func(State)
	keepalive   *time.Timer

	traces  []string
	traceMu sync.Mutex

	closed bool
	err    error
	done   chan struct{}
}

type target struct {
	base  string
	host  string
	path  string
	creds auth.Credentials
}

func parseTarget(rawURL string) (*target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.EqualFold(u.Scheme, "rtsp") {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.Path == "" || u.Path == "/" {
		return nil, fmt.Errorf("%w: missing path", ErrInvalidURL)
	}

	port := u.Port()
	if port == "" {
		port = DefaultPort
	}

	t := &target{
		host: net.JoinHostPort(u.Hostname(), port),
		path: u.Path,
	}
	if u.User != nil {
		t.creds.Username = u.User.Username()
		t.creds.Password, _ = u.User.Password()
	}

	clean := *u
	clean.User = nil
	clean.Scheme = "rtsp"
	clean.Host = t.host
	t.base = clean.String()
	return t, nil
}

// Dial connects to the host named by rawURL through cfg.Dialer and starts the
// session's read loop.
func Dial(ctx context.Context, rawURL string, cfg Config) (*Session, error) {
	t, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := cfg.Dialer.DialContext(ctx, "tcp", t.host)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial %s: %v", ErrConnectionFailed, t.host, err)
	}
	return newSession(conn, t, cfg), nil
}

// NewSession runs a session over an already connected socket.
func NewSession(conn net.Conn, rawURL string, cfg Config) (*Session, error) {
	t, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	return newSession(conn, t, cfg.withDefaults()), nil
}

func newSession(conn net.Conn, t *target, cfg Config) *Session {
	s := &Session{
		cfg:         cfg,
		conn:        conn,
		base:        t.base,
		creds:       t.creds,
		destination: cfg.Destination,
		transports:  cfg.Transports,
		requests:    make(map[int]*Request),
		responses:   make(map[int]*Response),
		replays:     make(map[int]int),
		changed:     make(chan struct{}),
		rng:         defaultRange(t.path),
		scale:       1,
		state:       StateConnecting,
		subscribers: make(map[string]func(State)),
		done:        make(chan struct{}),
	}
	if s.destination == "" {
		if host, _, err := net.SplitHostPort(conn.LocalAddr().String()); err == nil {
			s.destination = host
		}
	}

	go s.loop()
	return s
}

func defaultRange(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".sdp") {
		return "npt=end-"
	}
	return "npt=0.00000-"
}

func (s *Session) Describe() (int, error) {
	header := http.Header{"Accept": {"application/sdp"}}
	if s.cfg.EnableARQ {
		header["x-Retrans"] = []string{"yes"}
		header["x-Burst"] = []string{"yes"}
	}
	if s.cfg.EnableFEC {
		header["x-zmssFecCDN"] = []string{"yes"}
	}
	if s.cfg.NAT != "" {
		header["x-NAT"] = []string{s.cfg.NAT}
	}
	return s.do(MethodDescribe, s.Base(), header, StateDescribing)
}

// Setup issues SETUP for one track. An empty control targets the base URI.
func (s *Session) Setup(control string) (int, error) {
	s.RLock()
	value, err := transport.Negotiate(s.transports, s.destination, s.cfg.ClientPorts)
	target := trackURL(s.base, control)
	s.RUnlock()
	if err != nil {
		return 0, err
	}
	return s.do(MethodSetup, target, http.Header{"Transport": {value}}, StateSettingUp)
}

// SetupAll issues one SETUP per discovered track, or one against the base URI
// when the description announced none.
func (s *Session) SetupAll() ([]int, error) {
	tracks := s.Tracks()
	if len(tracks) == 0 {
		cseq, err := s.Setup("")
		if err != nil {
			return nil, err
		}
		return []int{cseq}, nil
	}

	sequences := make([]int, 0, len(tracks))
	for _, t := range tracks {
		cseq, err := s.Setup(t.Control)
		if err != nil {
			return sequences, err
		}
		sequences = append(sequences, cseq)
	}
	return sequences, nil
}

// Play starts or resumes delivery. An empty range or zero scale reuses the
// current value; the values sent are remembered.
func (s *Session) Play(rng string, scale float64) (int, error) {
	s.Lock()
	if rng != "" {
		s.rng = rng
	}
	if scale != 0 {
		s.scale = scale
	}
	header := http.Header{
		"Range": {s.rng},
		"Scale": {strconv.FormatFloat(s.scale, 'f', -1, 64)},
	}
	s.Unlock()
	return s.do(MethodPlay, s.Base(), header, stateUnchanged)
}

func (s *Session) Pause() (int, error) {
	return s.do(MethodPause, s.Base(), http.Header{}, stateUnchanged)
}

// Teardown asks the server to end the session. The read loop closes the
// session once the reply arrives or the server drops the connection.
func (s *Session) Teardown() (int, error) {
	return s.do(MethodTeardown, s.Base(), http.Header{}, StateTearingDown)
}

func (s *Session) Options() (int, error) {
	return s.do(MethodOptions, s.Base(), http.Header{}, stateUnchanged)
}

// GetParameter sends GET_PARAMETER with optional extra headers. It is traced
// only when header carries x-RetransSeq.
func (s *Session) GetParameter(header http.Header) (int, error) {
	if header == nil {
		header = http.Header{}
	}
	return s.do(MethodGetParameter, s.Base(), header, stateUnchanged)
}

const stateUnchanged State = -1

func (s *Session) do(method Method, target string, header http.Header, next State) (int, error) {
	s.Lock()
	cseq, err := s.sendLocked(&Request{Method: method, URL: target, Header: header})
	notify := noop
	if err == nil {
		if next != stateUnchanged {
			notify = s.setStateLocked(next)
		}
		if method == MethodTeardown {
			s.stopAfter = cseq
		}
	}
	s.Unlock()
	s.flushTraces()
	notify()

	if errors.Is(err, ErrConnectionFailed) {
		s.fail(err)
	}
	return cseq, err
}

// sendLocked assigns the next CSeq, records the request and writes it. The
// caller holds the lock so numbering and the write happen as one unit.
func (s *Session) sendLocked(req *Request) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	s.cseq++
	req.Sequence = s.cseq
	s.requests[req.Sequence] = req

	wire := req.clone()
	wire.Header["User-Agent"] = []string{s.cfg.UserAgent}
	if s.sessionID != "" {
		wire.Header["Session"] = []string{s.sessionID}
	}
	if s.challenge != nil {
		value, err := auth.Authorize(s.challenge, s.creds, req.Method.String(), requestPath(req.URL))
		if err == nil && value != "" {
			wire.Header["Authorization"] = []string{value}
		}
	}

	var buf bytes.Buffer
	if err := wire.Write(&buf); err != nil {
		return req.Sequence, fmt.Errorf("failed to encode %s request: %w", req.Method, err)
	}
	if traced(req) {
		s.traceLocked(buf.String())
	}
	if _, err := s.conn.Write(buf.Bytes()); err != nil {
		return req.Sequence, fmt.Errorf("%w: failed to send %s: %v", ErrConnectionFailed, req.Method, err)
	}
	return req.Sequence, nil
}

func traced(req *Request) bool {
	if req.Method != MethodGetParameter {
		return true
	}
	for k := range req.Header {
		if strings.EqualFold(k, "x-RetransSeq") {
			return true
		}
	}
	return false
}

func (s *Session) trace(text string) {
	s.Lock()
	s.traceLocked(text)
	s.Unlock()
	s.flushTraces()
}

// traceLocked queues a line; flushTraces delivers it once the lock is
// released.
func (s *Session) traceLocked(text string) {
	s.traces = append(s.traces, time.Now().Format(traceTimeLayout)+"\r\n"+text)
}

// flushTraces hands queued lines to the sink in order. Only one goroutine
// delivers at a time; lines queued meanwhile, including by the sink itself,
// are picked up by that goroutine before it returns.
func (s *Session) flushTraces() {
	if !s.traceMu.TryLock() {
		return
	}
	for {
		s.Lock()
		lines := s.traces
		s.traces = nil
		if len(lines) == 0 {
			s.traceMu.Unlock()
			s.Unlock()
			return
		}
		s.Unlock()

		for _, line := range lines {
			s.cfg.LogSink(line)
		}
	}
}

func (s *Session) loop() {
	var (
		buf     []byte
		chunk   = make([]byte, readBufferSize)
		readErr error
	)
	for {
		for {
			msg, rest, ok, err := ExtractMessage(buf)
			if err != nil {
				s.trace(string(buf))
				s.fail(err)
				return
			}
			if !ok {
				break
			}
			buf = append([]byte(nil), rest...)

			if err := s.dispatch(msg); err != nil {
				s.fail(err)
				return
			}
			if s.stopping() {
				_ = s.Close()
				return
			}
		}

		if readErr != nil {
			s.finish(buf, readErr)
			return
		}

		n, err := s.conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		readErr = err
	}
}

func (s *Session) finish(buf []byte, err error) {
	s.RLock()
	closed, stopping := s.closed, s.stopAfter != 0
	s.RUnlock()

	switch {
	case closed:
	case len(buf) > 0:
		s.trace(string(buf))
		s.fail(fmt.Errorf("%w: stream ended with %d unparsed bytes", ErrMalformedMessage, len(buf)))
	case stopping:
		_ = s.Close()
	default:
		s.fail(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
}

func (s *Session) stopping() bool {
	s.RLock()
	defer s.RUnlock()
	return s.stopAfter != 0 && s.lastSeq >= s.stopAfter
}

func (s *Session) dispatch(msg []byte) error {
	if bytes.HasPrefix(msg, []byte("RTSP/")) {
		resp, err := ParseResponse(msg)
		if err != nil {
			s.trace(string(msg))
			return err
		}
		return s.handleResponse(resp, msg)
	}

	req, err := ParseRequest(msg)
	if err != nil {
		s.trace(string(msg))
		return err
	}
	s.handleRequest(req, msg)
	return nil
}

func (s *Session) handleResponse(resp *Response, raw []byte) error {
	s.Lock()
	req, ok := s.requests[resp.Sequence]
	if !ok {
		s.traceLocked(string(raw))
		s.Unlock()
		s.flushTraces()
		return fmt.Errorf("%w: %d", ErrUnexpectedSequence, resp.Sequence)
	}
	if traced(req) {
		s.traceLocked(string(raw))
	}
	if resp.Sequence > s.lastSeq {
		s.lastSeq = resp.Sequence
	}

	var (
		notify = noop
		err    error
	)
	switch {
	case resp.Code == http.StatusUnauthorized && !s.authAttempted:
		notify, err = s.replayLocked(req, resp)
	case resp.Code == http.StatusUnauthorized:
		s.storeResponseLocked(resp)
		notify = s.abortLocked(req, fmt.Errorf("%w: %w", ErrAuthenticationFailed, statusError(req, resp)))
	case resp.Code == http.StatusFound:
		s.storeResponseLocked(resp)
		s.location = resp.Header.Get("Location")
	case resp.Code != http.StatusOK:
		s.storeResponseLocked(resp)
		notify = s.abortLocked(req, statusError(req, resp))
	default:
		s.storeResponseLocked(resp)
		notify = s.successLocked(req, resp)
	}
	s.broadcastLocked()
	s.Unlock()
	s.flushTraces()

	notify()
	return err
}

// storeResponseLocked keeps resp for Wait. Only the most recent
// maxStoredResponses sequence numbers are retained.
func (s *Session) storeResponseLocked(resp *Response) {
	s.responses[resp.Sequence] = resp
	if len(s.responses) <= maxStoredResponses {
		return
	}
	floor := resp.Sequence - maxStoredResponses
	for seq := range s.responses {
		if seq <= floor {
			delete(s.responses, seq)
		}
	}
	if floor > s.discarded {
		s.discarded = floor
	}
}

func statusError(req *Request, resp *Response) *StatusError {
	return &StatusError{Method: req.Method, Code: resp.Code, Message: resp.Message}
}

// replayLocked adopts the challenge and resends the original request once.
// Every later request carries an Authorization computed for its own method
// and path.
func (s *Session) replayLocked(req *Request, resp *Response) (func(), error) {
	s.authAttempted = true

	ch, err := auth.ParseChallenge(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		s.storeResponseLocked(resp)
		return s.abortLocked(req, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)), nil
	}
	if _, err := auth.Authorize(ch, s.creds, req.Method.String(), requestPath(req.URL)); err != nil {
		s.storeResponseLocked(resp)
		return s.abortLocked(req, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)), nil
	}
	s.challenge = ch

	retry := req.clone()
	cseq, err := s.sendLocked(retry)
	if err != nil {
		s.storeResponseLocked(resp)
		return noop, err
	}
	s.replays[req.Sequence] = cseq
	if req.Method == MethodTeardown {
		s.stopAfter = cseq
	}
	return noop, nil
}

// abortLocked records err, enters the error state and tears the session down.
func (s *Session) abortLocked(req *Request, err error) func() {
	if s.err == nil {
		s.err = err
	}
	notify := s.setStateLocked(StateError)

	if req.Method == MethodTeardown {
		return notify
	}
	cseq, sendErr := s.sendLocked(&Request{Method: MethodTeardown, URL: s.base, Header: http.Header{}})
	if sendErr != nil {
		s.stopAfter = -1
		return notify
	}
	s.stopAfter = cseq
	return notify
}

func (s *Session) successLocked(req *Request, resp *Response) func() {
	switch req.Method {
	case MethodDescribe:
		if base := resp.Header.Get("Content-Base"); base != "" {
			s.base = strings.TrimSuffix(base, "/")
		}
		tracks, desc := parseTracks(resp.Body)
		s.tracks = tracks
		if desc != nil && s.cfg.ChooseTransport != nil {
			if variants := s.cfg.ChooseTransport(desc); len(variants) > 0 {
				s.transports = append([]transport.Variant(nil), variants...)
			}
		}
		return s.setStateLocked(StateDescribed)
	case MethodSetup:
		id, _, _ := strings.Cut(resp.Header.Get("Session"), ";")
		s.sessionID = strings.TrimSpace(id)
		if values := resp.Header.Values("Transport"); len(values) > 0 {
			reply, err := transport.Parse(values)
			if err != nil {
				log.WithError(err).Warn("failed to parse transport reply")
			} else {
				s.reply = reply
			}
		}
		s.armKeepaliveLocked()
		return s.setStateLocked(StateSetUp)
	case MethodPlay:
		return s.setStateLocked(StatePlaying)
	case MethodPause:
		return s.setStateLocked(StatePaused)
	}
	return noop
}

func (s *Session) handleRequest(req *Request, raw []byte) {
	s.trace(string(raw))
	if req.Method != MethodAnnounce {
		log.WithField("method", req.Method).Debug("ignoring server request")
		return
	}

	fields := strings.Fields(req.Header.Get("x-notice"))
	if len(fields) == 0 {
		return
	}
	notice, err := strconv.Atoi(fields[0])
	if err != nil {
		log.WithError(err).Debug("failed to parse x-notice")
		return
	}

	switch notice {
	case noticeEndOfStream, noticeBeginOfStream:
		s.Lock()
		s.scale = 1
		s.Unlock()
		if _, err := s.Play("", 0); err != nil {
			log.WithError(err).Warn("failed to resume play after stream notice")
		}
	case noticeClose:
		if _, err := s.Teardown(); err != nil {
			log.WithError(err).Warn("failed to tear down after close notice")
		}
	default:
		log.WithField("notice", notice).Debug("ignoring unknown stream notice")
	}
}

func requestPath(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Path == "" {
		return target
	}
	return u.Path
}

func (s *Session) armKeepaliveLocked() {
	if s.keepalive != nil || s.closed {
		return
	}
	s.keepalive = time.AfterFunc(s.cfg.KeepaliveInterval, s.keepaliveTick)
}

func (s *Session) keepaliveTick() {
	if !s.Active() {
		return
	}
	if _, err := s.GetParameter(nil); err != nil {
		log.WithError(err).Debug("keepalive failed")
		return
	}

	s.Lock()
	defer s.Unlock()
	if s.activeLocked() {
		s.keepalive.Reset(s.cfg.KeepaliveInterval)
	}
}

// Active reports whether the session is open and not shutting down.
func (s *Session) Active() bool {
	s.RLock()
	defer s.RUnlock()
	return s.activeLocked()
}

func (s *Session) activeLocked() bool {
	return !s.closed && !s.state.Terminal() && s.state != StateTearingDown
}

func noop() {}

func (s *Session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// setStateLocked moves to next unless the session already reached a terminal
// state. The returned function notifies subscribers and must be called after
// the lock is released.
func (s *Session) setStateLocked(next State) func() {
	if s.state == next || s.state.Terminal() {
		return noop
	}
	s.state = next
	s.broadcastLocked()

	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(next)
		}
	}
}

func (s *Session) fail(err error) {
	s.Lock()
	if s.err == nil {
		s.err = err
	}
	notify := s.setStateLocked(StateError)
	s.Unlock()
	notify()

	_ = s.Close()
}

// Close releases the socket and stops the keepalive. It is safe to call more
// than once; an error state is kept.
func (s *Session) Close() error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return nil
	}
	s.closed = true
	if s.keepalive != nil {
		s.keepalive.Stop()
	}
	notify := s.setStateLocked(StateClosed)
	err := s.conn.Close()
	close(s.done)
	s.broadcastLocked()
	s.Unlock()

	notify()
	return err
}

// Wait blocks until the response to cseq arrives. A request replayed after an
// authentication challenge resolves to the replay's response. Only the latest
// responses are retained; waiting on an older one returns ErrResponseDiscarded.
func (s *Session) Wait(ctx context.Context, cseq int) (*Response, error) {
	for {
		s.RLock()
		for {
			next, ok := s.replays[cseq]
			if !ok {
				break
			}
			cseq = next
		}
		resp, ok := s.responses[cseq]
		discarded := cseq <= s.discarded
		changed, closed, err := s.changed, s.closed, s.err
		s.RUnlock()

		switch {
		case ok:
			return resp, nil
		case discarded:
			return nil, fmt.Errorf("%w: %d", ErrResponseDiscarded, cseq)
		case closed && err != nil:
			return nil, err
		case closed:
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// WaitForState blocks until the session enters one of states. Reaching a
// terminal state that is not wanted returns the session error.
func (s *Session) WaitForState(ctx context.Context, states ...State) (State, error) {
	for {
		s.RLock()
		current, changed, err := s.state, s.changed, s.err
		s.RUnlock()

		for _, want := range states {
			if current == want {
				return current, nil
			}
		}
		if current.Terminal() {
			if err == nil {
				err = ErrClosed
			}
			return current, err
		}

		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-changed:
		}
	}
}

// Subscribe registers fn for state changes and returns a function removing it.
func (s *Session) Subscribe(fn func(State)) func() {
	s.Lock()
	defer s.Unlock()
	id := uuid.NewString()
	s.subscribers[id] = fn
	return func() {
		s.Lock()
		defer s.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Session) State() State {
	s.RLock()
	defer s.RUnlock()
	return s.state
}

func (s *Session) Closed() bool {
	s.RLock()
	defer s.RUnlock()
	return s.closed
}

func (s *Session) Err() error {
	s.RLock()
	defer s.RUnlock()
	return s.err
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Base() string {
	s.RLock()
	defer s.RUnlock()
	return s.base
}

func (s *Session) SessionID() string {
	s.RLock()
	defer s.RUnlock()
	return s.sessionID
}

// Location is the redirect target of the last 302, if any. The session does
// not follow it.
func (s *Session) Location() string {
	s.RLock()
	defer s.RUnlock()
	return s.location
}

func (s *Session) Tracks() []Track {
	s.RLock()
	defer s.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// Transport is the server's reply to the last successful SETUP.
func (s *Session) Transport() transport.Header {
	s.RLock()
	defer s.RUnlock()
	return s.reply
}

// Method returns the method of the request sent with cseq.
func (s *Session) Method(cseq int) (Method, bool) {
	s.RLock()
	defer s.RUnlock()
	req, ok := s.requests[cseq]
	if !ok {
		return "", false
	}
	return req.Method, true
}

func (s *Session) Sequence() int {
	s.RLock()
	defer s.RUnlock()
	return s.cseq
}
