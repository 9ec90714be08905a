package reader

import (
	"context"
	"strconv"
	"strings"

	errs "znum/pkg/errors"
	"znum/pkg/models"
	"znum/pkg/protocol"
)

const (
	pageCountMarker = `pages__all">`
	keyMarker       = `id="render-ver" type="hidden" value="`
)

// FetchDocumentInfo opens a document in the reader and reads its page count
// and key material from the page markup.
func (c *Client) FetchDocumentInfo(ctx context.Context, documentURL string) (models.DocumentHandle, models.KeyMaterial, error) {
	var (
		handle models.DocumentHandle
		key    models.KeyMaterial
	)

	id, err := DocumentIDFromURL(documentURL)
	if err != nil {
		return handle, key, err
	}
	readerURL, err := ReaderURL(c.baseURL, documentURL)
	if err != nil {
		return handle, key, err
	}

	c.logger.DebugWithFields("fetching document info", map[string]interface{}{
		"document": id,
	})

	resp, err := c.Send(ctx, &Request{Method: "GET", URL: readerURL})
	if err != nil {
		return handle, key, err
	}
	if err := expectSuccess(resp, "failed to open document"); err != nil {
		return handle, key, err
	}

	handle, key, err = ParseDocumentInfo(id, resp.Body)
	if err != nil {
		return handle, key, err
	}

	c.logger.InfoWithFields("document info resolved", map[string]interface{}{
		"document": handle.DocumentID,
		"pages":    handle.PageCount,
	})
	return handle, key, nil
}

// ParseDocumentInfo extracts the page count and key material from reader markup
func ParseDocumentInfo(documentID, body string) (models.DocumentHandle, models.KeyMaterial, error) {
	handle := models.DocumentHandle{DocumentID: documentID}
	var key models.KeyMaterial

	countText, ok := protocol.TextBetween(body, pageCountMarker, "<")
	if !ok {
		return handle, key, &errs.Error{
			Kind:    errs.KindProtocolMismatch,
			Message: "page count not found; the document may require a login",
		}
	}
	count, err := strconv.Atoi(leadingDigits(strings.TrimLeftFunc(countText, notDigit)))
	if err != nil || count <= 0 {
		return handle, key, &errs.Error{
			Kind:    errs.KindProtocolMismatch,
			Status:  strings.TrimSpace(countText),
			Message: "invalid page count",
		}
	}
	handle.PageCount = count

	keyText, ok := protocol.TextBetween(body, keyMarker, `"`)
	if !ok {
		return handle, key, errs.New(errs.KindProtocolMismatch, "render key not found")
	}
	key.CryptoKey, key.CryptoKeyID, _ = strings.Cut(keyText, ":")

	return handle, key, nil
}

func notDigit(r rune) bool {
	return r < '0' || r > '9'
}

func leadingDigits(s string) string {
	end := strings.IndexFunc(s, notDigit)
	if end < 0 {
		return s
	}
	return s[:end]
}
