package camera

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/proxy"
	"gopkg.in/yaml.v3"

	"github.com/bilbercode/camwatch/internal/rtsp"
)

const DefaultSocksPort = 1080

var ErrInvalidConfig = errors.New("invalid camera configuration")

// ID identifies a camera by its address and device port.
type ID string

func NewID(ip string, port int) ID {
	return ID(net.JoinHostPort(ip, strconv.Itoa(port)))
}

type Socks struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func (s *Socks) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Dialer returns a SOCKS5 dialer usable as the session transport.
func (s *Socks) Dialer() (rtsp.Dialer, error) {
	var a *proxy.Auth
	if s.User != "" {
		a = &proxy.Auth{User: s.User, Password: s.Password}
	}
	d, err := proxy.SOCKS5("tcp", s.Addr(), a, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create socks dialer for %s: %w", s.Addr(), err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks dialer for %s does not support contexts", s.Addr())
	}
	return cd, nil
}

type Camera struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	IP         string `yaml:"ip"`
	DevicePort int    `yaml:"onvif"`
	URL        string `yaml:"rtsp"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Socks      *Socks `yaml:"socks"`
}

func (c *Camera) Key() ID {
	return NewID(c.IP, c.DevicePort)
}

func (c *Camera) String() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// StreamURL adds the camera credentials to uri unless it already carries
// userinfo.
func (c *Camera) StreamURL(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User != nil || c.Username == "" {
		return uri
	}
	u.User = url.UserPassword(c.Username, c.Password)
	return u.String()
}

func (c *Camera) validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: camera id is required", ErrInvalidConfig)
	}
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || !strings.EqualFold(u.Scheme, "rtsp") || u.Host == "" {
			return fmt.Errorf("%w: camera %s: %q is not an rtsp URL", ErrInvalidConfig, c.ID, c.URL)
		}
		if c.IP == "" {
			c.IP = u.Hostname()
		}
	}
	if c.IP == "" {
		return fmt.Errorf("%w: camera %s: ip or rtsp URL is required", ErrInvalidConfig, c.ID)
	}
	if c.Socks != nil {
		if c.Socks.Host == "" {
			return fmt.Errorf("%w: camera %s: socks host is required", ErrInvalidConfig, c.ID)
		}
		if c.Socks.Port == 0 {
			c.Socks.Port = DefaultSocksPort
		}
	}
	return nil
}

// FromURL builds a camera from a single stream URL.
func FromURL(id, rawURL string) (*Camera, error) {
	c := &Camera{ID: id, URL: rawURL}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

type Config struct {
	Cameras []*Camera `yaml:"cameras"`
}

func ParseConfig(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse camera list: %w", err)
	}

	seen := make(map[string]bool)
	for _, c := range cfg.Cameras {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate camera id %s", ErrInvalidConfig, c.ID)
		}
		seen[c.ID] = true
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read camera list %s: %w", path, err)
	}
	return ParseConfig(b)
}
