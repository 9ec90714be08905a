// Package reader talks to the document reader over HTTP.
//
// Client is the transport used by the downloader: it injects browser-like
// headers, shares a cookie jar with the session and retries network failures
// and transient statuses (408, 429, 5xx) with exponential backoff. The rest
// of the package covers what happens before a download starts: building
// reader URLs, logging in, and reading a document's page count and key
// material from its reader page.
package reader
