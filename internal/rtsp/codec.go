package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// maxMessageSize bounds one message, header block and body together.
const maxMessageSize = 1 << 20

var terminator = []byte("\r\n\r\n")

// ExtractMessage splits the first complete message off buf. ok is false until
// the header terminator and the full Content-Length body are buffered; rest is
// buf with msg removed and must be kept for the next call.
func ExtractMessage(buf []byte) (msg, rest []byte, ok bool, err error) {
	idx := bytes.Index(buf, terminator)
	if idx < 0 {
		if len(buf) > maxMessageSize {
			return nil, buf, false, fmt.Errorf("%w: %d bytes without a header terminator", ErrMalformedMessage, len(buf))
		}
		return nil, buf, false, nil
	}

	length, err := contentLength(buf[:idx])
	if err != nil {
		return nil, buf, false, err
	}
	if length > maxMessageSize-idx-len(terminator) {
		return nil, buf, false, fmt.Errorf("%w: content-length %d exceeds %d bytes", ErrMalformedMessage, length, maxMessageSize)
	}

	end := idx + len(terminator) + length
	if len(buf) < end {
		return nil, buf, false, nil
	}
	return buf[:end], buf[end:], true, nil
}

func contentLength(head []byte) (int, error) {
	for _, line := range strings.Split(string(head), "\r\n") {
		key, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			continue
		}
		length, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || length < 0 {
			return 0, fmt.Errorf("%w: invalid content-length %q", ErrMalformedMessage, value)
		}
		return length, nil
	}
	return 0, nil
}

func ParseResponse(msg []byte) (*Response, error) {
	reader, line, err := startLine(msg)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return nil, fmt.Errorf("%w: bad status line %q", ErrMalformedMessage, line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse response code: %v", ErrMalformedMessage, err)
	}

	resp := &Response{
		Version: strings.TrimPrefix(parts[0], "RTSP/"),
		Code:    code,
	}
	if len(parts) == 3 {
		resp.Message = parts[2]
	}

	resp.Header, resp.Body, err = readHeaderAndBody(reader)
	if err != nil {
		return nil, err
	}

	seq := resp.Header.Get("CSeq")
	if seq == "" {
		return nil, fmt.Errorf("%w: response without CSeq", ErrMalformedMessage)
	}
	resp.Sequence, err = strconv.Atoi(strings.TrimSpace(seq))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse CSeq: %v", ErrMalformedMessage, err)
	}
	return resp, nil
}

// ParseRequest decodes a server pushed request such as ANNOUNCE. A missing
// CSeq is tolerated and reported as zero.
func ParseRequest(msg []byte) (*Request, error) {
	reader, line, err := startLine(msg)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "RTSP/") {
		return nil, fmt.Errorf("%w: bad request line %q", ErrMalformedMessage, line)
	}

	req := &Request{
		Method:  Method(parts[0]),
		URL:     parts[1],
		Version: strings.TrimPrefix(parts[2], "RTSP/"),
	}

	req.Header, req.Body, err = readHeaderAndBody(reader)
	if err != nil {
		return nil, err
	}
	if seq := req.Header.Get("CSeq"); seq != "" {
		req.Sequence, err = strconv.Atoi(strings.TrimSpace(seq))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse CSeq: %v", ErrMalformedMessage, err)
		}
	}
	return req, nil
}

func startLine(msg []byte) (*textproto.Reader, string, error) {
	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(msg)))
	line, err := reader.ReadLine()
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read start line: %v", ErrMalformedMessage, err)
	}
	return reader, strings.TrimSpace(line), nil
}

func readHeaderAndBody(reader *textproto.Reader) (http.Header, []byte, error) {
	mime, err := reader.ReadMIMEHeader()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read headers: %v", ErrMalformedMessage, err)
	}
	header := http.Header(mime)

	var body []byte
	if v := header.Get("Content-Length"); v != "" {
		length, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || length < 0 {
			return nil, nil, fmt.Errorf("%w: invalid content-length %q", ErrMalformedMessage, v)
		}
		body = make([]byte, length)
		n, err := io.ReadFull(reader.R, body)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: short body, expected %d read %d",
				ErrMalformedMessage, length, n)
		}
	}
	return header, body, nil
}
