// Package session keeps the reader's cookies across runs.
//
// A Session is an http.CookieJar backed by net/http/cookiejar. Cookies for
// the reader's base URL are saved to a JSON file and loaded on the next run.
// Invalidate drops every cookie and deletes the file, so the next run has
// to log in again.
package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// storedCookie is the on-disk form of a cookie
type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"httpOnly,omitempty"`
}

// Session is a persistent cookie jar for one site
type Session struct {
	mu   sync.RWMutex
	jar  *cookiejar.Jar
	base *url.URL
	path string
}

// New creates an empty session for baseURL persisted at path
func New(baseURL, path string) (*Session, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	jar, err := newJar()
	if err != nil {
		return nil, err
	}

	return &Session{jar: jar, base: base, path: path}, nil
}

func newJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// Path returns the cookie file location
func (s *Session) Path() string {
	return s.path
}

// SetCookies implements http.CookieJar
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jar.Cookies(u)
}

// IsAuthenticated reports whether the jar holds cookies for the reader
func (s *Session) IsAuthenticated() bool {
	return len(s.Cookies(s.base)) > 0
}

// Load reads cookies from disk. It reports false when there is no cookie file.
func (s *Session) Load() (bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return false, fmt.Errorf("failed to parse cookie file: %w", err)
	}

	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		path := c.Path
		if path == "" {
			path = "/"
		}
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	s.SetCookies(s.base, cookies)

	return len(cookies) > 0, nil
}

// Save writes the cookies sent to the reader's base URL to disk
func (s *Session) Save() error {
	cookies := s.Cookies(s.base)

	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, storedCookie{Name: c.Name, Value: c.Value, Path: "/"})
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return nil
}

// Invalidate drops all cookies and removes the cookie file
func (s *Session) Invalidate() error {
	jar, err := newJar()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.jar = jar
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cookie file: %w", err)
	}
	return nil
}
