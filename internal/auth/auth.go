package auth

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

type Scheme string

const (
	SchemeBasic  Scheme = "basic"
	SchemeDigest Scheme = "digest"
)

const algorithmMD5 = "MD5"

var (
	ErrUnsupportedScheme    = errors.New("unsupported authentication scheme")
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	ErrMissingUsername      = errors.New("authentication required, no username provided")
	ErrMalformedChallenge   = errors.New("malformed authentication challenge")
)

// Challenge is a parsed WWW-Authenticate value. It is consumed immediately to
// produce an Authorization value and is never retained.
type Challenge struct {
	Scheme    Scheme
	Realm     string
	Nonce     string
	Algorithm string
	Opaque    string
	Qop       string
}

type Credentials struct {
	Username string
	Password string
}

func ParseChallenge(value string) (*Challenge, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrMalformedChallenge
	}

	name, rest := value, ""
	if i := strings.IndexAny(value, " \t"); i >= 0 {
		name, rest = value[:i], value[i+1:]
	}

	ch := &Challenge{}
	switch strings.ToLower(name) {
	case string(SchemeBasic):
		ch.Scheme = SchemeBasic
	case string(SchemeDigest):
		ch.Scheme = SchemeDigest
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, name)
	}

	params := parseParams(rest)
	ch.Realm = params["realm"]
	ch.Nonce = params["nonce"]
	ch.Algorithm = params["algorithm"]
	ch.Opaque = params["opaque"]
	ch.Qop = params["qop"]

	if ch.Scheme == SchemeDigest && ch.Nonce == "" {
		return nil, fmt.Errorf("%w: digest challenge without nonce", ErrMalformedChallenge)
	}
	return ch, nil
}

// Authorize computes the Authorization header value answering ch for a request
// with the given method and uri. A basic challenge yields an empty value.
func Authorize(ch *Challenge, creds Credentials, method, uri string) (string, error) {
	switch ch.Scheme {
	case SchemeBasic:
		return "", nil
	case SchemeDigest:
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, ch.Scheme)
	}

	if ch.Algorithm != "" && !strings.EqualFold(ch.Algorithm, algorithmMD5) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, ch.Algorithm)
	}
	if creds.Username == "" {
		return "", ErrMissingUsername
	}

	response := DigestResponse(creds, ch.Realm, ch.Nonce, method, uri)

	parts := []string{
		fmt.Sprintf(`username="%s"`, creds.Username),
		fmt.Sprintf(`algorithm="%s"`, algorithmMD5),
		fmt.Sprintf(`realm="%s"`, ch.Realm),
		fmt.Sprintf(`nonce="%s"`, ch.Nonce),
		fmt.Sprintf(`uri="%s"`, uri),
		fmt.Sprintf(`response="%s"`, response),
	}
	if ch.Opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, ch.Opaque))
	}
	return "Digest " + strings.Join(parts, ", "), nil
}

// DigestResponse is MD5(HA1:nonce:HA2) with HA1 = MD5(username:realm:password)
// and HA2 = MD5(method:uri).
func DigestResponse(creds Credentials, realm, nonce, method, uri string) string {
	ha1 := md5Hex(creds.Username + ":" + realm + ":" + creds.Password)
	ha2 := md5Hex(method + ":" + uri)
	return md5Hex(ha1 + ":" + nonce + ":" + ha2)
}

func md5Hex(in string) string {
	h := md5.Sum([]byte(in))
	return hex.EncodeToString(h[:])
}

func parseParams(in string) map[string]string {
	params := make(map[string]string)
	for _, part := range splitParams(in) {
		i := strings.Index(part, "=")
		if i < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:i]))
		params[key] = strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
	}
	return params
}

// splitParams splits on commas that are not inside a quoted string.
func splitParams(in string) []string {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
	)
	for i := 0; i < len(in); i++ {
		c := in[i]
		switch {
		case c == '"':
			quoted = !quoted
			current.WriteByte(c)
		case c == ',' && !quoted:
			if s := strings.TrimSpace(current.String()); s != "" {
				parts = append(parts, s)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}
