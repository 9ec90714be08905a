package reader

import (
	"fmt"
	"net/url"
	"strings"

	"znum/pkg/protocol"
)

const (
	// LoginPath is the reader's login form
	LoginPath = "site/login"

	// ReadPath opens a document in the reader
	ReadPath = "read"

	// PagePath serves one page of a document
	PagePath = "read/page"
)

// joinURL appends path to base, keeping exactly one slash between them
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// PageURL returns the URL of one page of a document
func PageURL(baseURL, documentID string, page int) string {
	return fmt.Sprintf("%s?doc=%s&page=%d&current=%d&d=&t=png",
		joinURL(baseURL, PagePath), url.QueryEscape(documentID), page, page)
}

// LoginURL returns the login form URL
func LoginURL(baseURL string) string {
	return joinURL(baseURL, LoginPath)
}

// ReaderURL returns the reader page for a document URL. URLs that already
// point at the reader are returned unchanged.
func ReaderURL(baseURL, documentURL string) (string, error) {
	if strings.Contains(documentURL, ReadPath) {
		return documentURL, nil
	}

	id, err := DocumentIDFromURL(documentURL)
	if err != nil {
		return "", err
	}
	return joinURL(baseURL, ReadPath) + "?id=" + url.QueryEscape(id), nil
}

// DocumentIDFromURL extracts the id query value from a document URL
func DocumentIDFromURL(documentURL string) (string, error) {
	id, ok := protocol.TextBetween(documentURL, "id=", "&")
	if !ok {
		return "", fmt.Errorf("no document id in %q", documentURL)
	}
	id = strings.TrimSpace(strings.SplitN(id, "#", 2)[0])
	if id == "" {
		return "", fmt.Errorf("empty document id in %q", documentURL)
	}
	return id, nil
}

// PageRequest builds the authenticated request for one page
func PageRequest(baseURL, documentID string, page int, token string) *Request {
	return &Request{
		Method: "GET",
		URL:    PageURL(baseURL, documentID, page),
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
		},
	}
}
