package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
)

const protocolVersion = "1.0"

type Request struct {
	Version  string
	URL      string
	Sequence int
	Method   Method
	Header   http.Header
	Body     []byte
}

// Write encodes the request. Header names are written as stored so that
// vendor headers such as x-Retrans keep their case.
func (r *Request) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writer := textproto.NewWriter(bw)

	version := r.Version
	if version == "" {
		version = protocolVersion
	}
	err := writer.PrintfLine("%s %s RTSP/%s", r.Method, r.URL, version)
	if err != nil {
		return fmt.Errorf("failed to write request line: %w", err)
	}

	if err := writeHeader(writer, r.Sequence, r.Header, r.Body); err != nil {
		return err
	}
	if len(r.Body) > 0 {
		if _, err := bw.Write(r.Body); err != nil {
			return fmt.Errorf("failed to write request body: %w", err)
		}
	}
	return bw.Flush()
}

func (r *Request) clone() *Request {
	out := *r
	out.Header = make(http.Header, len(r.Header))
	for k, v := range r.Header {
		out.Header[k] = append([]string(nil), v...)
	}
	return &out
}

func writeHeader(writer *textproto.Writer, cseq int, header http.Header, body []byte) error {
	if err := writer.PrintfLine("CSeq: %d", cseq); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	keys := make([]string, 0, len(header))
	for k := range header {
		switch textproto.CanonicalMIMEHeaderKey(k) {
		case "Cseq", "Content-Length":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range header[k] {
			if err := writer.PrintfLine("%s: %s", k, v); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
		}
	}
	if len(body) > 0 {
		if err := writer.PrintfLine("Content-Length: %s", strconv.Itoa(len(body))); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	return writer.PrintfLine("")
}
