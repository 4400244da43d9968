package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// exportedCookie is one entry of a browser cookie export. Both the
// DevTools ("expires") and extension ("expirationDate") spellings of the
// expiry are accepted.
type exportedCookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Expires        float64 `json:"expires"`
	ExpirationDate float64 `json:"expirationDate"`
	HTTPOnly       bool    `json:"httpOnly"`
	Secure         bool    `json:"secure"`
	SameSite       string  `json:"sameSite"`
}

// ReadCookies parses a JSON cookie export into CDP cookie parameters.
func ReadCookies(path string) ([]*proto.NetworkCookieParam, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("browser: read cookies: %w", err)
	}
	return ParseCookies(data)
}

// ParseCookies converts a JSON cookie export. Entries without a name are
// skipped.
func ParseCookies(data []byte) ([]*proto.NetworkCookieParam, error) {
	var raw []exportedCookie
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("browser: parse cookies: %w", err)
	}

	params := make([]*proto.NetworkCookieParam, 0, len(raw))
	for _, c := range raw {
		if c.Name == "" {
			continue
		}
		expires := c.Expires
		if expires <= 0 {
			expires = c.ExpirationDate
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			Expires:  proto.TimeSinceEpoch(expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: sameSite(c.SameSite),
		})
	}
	return params, nil
}

func sameSite(s string) proto.NetworkCookieSameSite {
	switch strings.ToLower(s) {
	case "strict":
		return proto.NetworkCookieSameSiteStrict
	case "lax":
		return proto.NetworkCookieSameSiteLax
	case "none", "no_restriction":
		return proto.NetworkCookieSameSiteNone
	}
	return ""
}

// LoadCookies reads a cookie export and installs it in b.
func LoadCookies(b *rod.Browser, path string) (int, error) {
	params, err := ReadCookies(path)
	if err != nil {
		return 0, err
	}
	if len(params) == 0 {
		return 0, nil
	}
	if err := b.SetCookies(params); err != nil {
		return 0, fmt.Errorf("browser: set cookies: %w", err)
	}
	return len(params), nil
}
