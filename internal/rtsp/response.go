package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
)

type Response struct {
	Version  string
	Code     int
	Message  string
	Sequence int
	Header   http.Header
	Body     []byte
}

func (r *Response) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writer := textproto.NewWriter(bw)

	version := r.Version
	if version == "" {
		version = protocolVersion
	}
	message := r.Message
	if message == "" {
		message = StatusText(r.Code)
	}
	err := writer.PrintfLine("RTSP/%s %d %s", version, r.Code, message)
	if err != nil {
		return fmt.Errorf("failed to write response line: %w", err)
	}

	if err := writeHeader(writer, r.Sequence, r.Header, r.Body); err != nil {
		return err
	}
	if len(r.Body) > 0 {
		if _, err := bw.Write(r.Body); err != nil {
			return fmt.Errorf("failed to write response body: %w", err)
		}
	}
	return bw.Flush()
}

const (
	StatusSessionNotFound      = 454
	StatusUnsupportedTransport = 461
	StatusOptionNotSupported   = 551
)

// StatusText extends the HTTP reason phrases with the RTSP specific ones.
func StatusText(code int) string {
	switch code {
	case StatusSessionNotFound:
		return "Session Not Found"
	case StatusUnsupportedTransport:
		return "Unsupported Transport"
	case StatusOptionNotSupported:
		return "Option not supported"
	}
	return http.StatusText(code)
}
