package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// Session is an opaque credential bundle for the gated portal: the cookie jar
// produced by the interactive verification flow plus the user agent the flow
// was performed with. A session is never repaired in place; when it expires
// the controller discards it and acquires a new one.
type Session struct {
	Jar        http.CookieJar
	UserAgent  string
	AcquiredAt time.Time
}

// Cookie is the wire form a verification helper hands back.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
	Secure bool   `json:"secure"`
}

// helperOutput is the JSON document a verification helper prints on stdout.
type helperOutput struct {
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"user_agent"`
}

// ParseHelperOutput decodes helper JSON and builds a usable session.
func ParseHelperOutput(data []byte) (*Session, error) {
	var out helperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode helper output: %w", err)
	}
	if len(out.Cookies) == 0 {
		return nil, fmt.Errorf("helper returned no cookies")
	}

	jar, err := buildJar(out.Cookies)
	if err != nil {
		return nil, err
	}

	return &Session{
		Jar:        jar,
		UserAgent:  out.UserAgent,
		AcquiredAt: time.Now(),
	}, nil
}

func buildJar(cookies []Cookie) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	byDomain := map[string][]*http.Cookie{}
	for _, c := range cookies {
		if c.Name == "" || c.Domain == "" {
			return nil, fmt.Errorf("cookie missing name or domain")
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		byDomain[c.Domain] = append(byDomain[c.Domain], &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Path:   path,
			Domain: c.Domain,
			Secure: c.Secure,
		})
	}

	for domain, set := range byDomain {
		host := domain
		for len(host) > 0 && host[0] == '.' {
			host = host[1:]
		}
		u := &url.URL{Scheme: "https", Host: host, Path: "/"}
		jar.SetCookies(u, set)
	}

	return jar, nil
}
