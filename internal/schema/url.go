package schema

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// defaultPorts lists the special schemes, whose URLs have a tuple origin.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// parsedURL is an absolute URL with a normalized host.
type parsedURL struct {
	u       *url.URL
	special bool
	host    string // ASCII, lower case, without brackets
	port    string // empty when default
}

func parseURL(s string) (*parsedURL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme", ErrNotURL)
	}

	p := &parsedURL{u: u}
	defPort, special := defaultPorts[u.Scheme]
	p.special = special
	if !special {
		return p, nil
	}

	if u.Opaque != "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %s url without host", ErrNotURL, u.Scheme)
	}

	host, err := asciiHost(u.Hostname())
	if err != nil {
		return nil, err
	}
	p.host = host
	if port := u.Port(); port != defPort {
		p.port = port
	}

	return p, nil
}

func asciiHost(h string) (string, error) {
	if ip := net.ParseIP(h); ip != nil {
		return strings.ToLower(h), nil
	}
	ascii, err := idna.Lookup.ToASCII(h)
	if err != nil {
		return "", fmt.Errorf("%w: bad host %q: %v", ErrNotURL, h, err)
	}
	return strings.ToLower(ascii), nil
}

func (p *parsedURL) hostPort() string {
	host := p.host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if p.port != "" {
		host += ":" + p.port
	}
	return host
}

// String serializes the URL, with the host normalized for special schemes.
func (p *parsedURL) String() string {
	if !p.special {
		return p.u.String()
	}
	u := *p.u
	u.Host = p.hostPort()
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String()
}

// Origin returns the ASCII serialization of the URL's origin.
func (p *parsedURL) Origin() (string, error) {
	if !p.special {
		return "", ErrOriginWasOpaque
	}
	if p.u.User != nil {
		return "", fmt.Errorf("%w: url has credentials", ErrURLWasNotOrigin)
	}
	return p.u.Scheme + "://" + p.hostPort(), nil
}

// isBareOrigin reports whether the URL is exactly an origin: no credentials,
// path, query or fragment.
func (p *parsedURL) isBareOrigin() bool {
	if !p.special || p.u.User != nil {
		return false
	}
	if p.u.Path != "" && p.u.Path != "/" {
		return false
	}
	return p.u.RawQuery == "" && !p.u.ForceQuery && p.u.Fragment == ""
}
