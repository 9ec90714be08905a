// Package downloader walks a document page by page, fetching, reconstructing
// and persisting every page that is not already on disk.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	errs "znum/pkg/errors"
	"znum/pkg/logger"
	"znum/pkg/models"
	"znum/pkg/protocol"
	"znum/pkg/ratelimit"
	"znum/pkg/reader"
	"znum/pkg/token"
)

// Page outcomes reported to the logger and ProgressFunc
const (
	OutcomeSkipped = "skipped"
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"
)

// Transport sends a reader request and returns the fully read response
type Transport interface {
	Send(ctx context.Context, req *reader.Request) (*reader.Response, error)
}

// Session is the login state shared with the transport
type Session interface {
	IsAuthenticated() bool
	Invalidate() error
}

// ArtifactStore persists page bitmaps at deterministic paths
type ArtifactStore interface {
	PagePath(documentID string, page int) string
	Exists(path string) bool
	Write(path string, data []byte) error
	Remove(path string) error
}

// Reconstructor turns a parsed page response into image bytes
type Reconstructor interface {
	Reconstruct(resp *protocol.PageResponse, key models.KeyMaterial) ([]byte, error)
}

// ProgressFunc is called after every page, skipped or fetched
type ProgressFunc func(done, total int, artifact models.PageArtifact)

// Dependencies are the collaborators of a Downloader. Transport, Session,
// Store and Reconstructor are required.
type Dependencies struct {
	Transport     Transport
	Session       Session
	Store         ArtifactStore
	Reconstructor Reconstructor
	Limiter       ratelimit.Limiter
	Tokens        *token.Generator
	Clock         func() time.Time
	Progress      ProgressFunc
	Logger        logger.Logger

	// BaseURL is the reader root page requests are built against
	BaseURL string

	// AuthMarkers and RateLimitMarkers are matched case-insensitively
	// against a non-OK status text
	AuthMarkers      []string
	RateLimitMarkers []string
}

// Result is the outcome of a run. Artifacts holds every page completed
// before the run stopped, in page order.
type Result struct {
	Artifacts []models.PageArtifact
	// StoppedAt is the page the run failed on, 0 when it completed
	StoppedAt int
	Err       error
}

// Complete reports whether every page was produced
func (r *Result) Complete() bool {
	return r.Err == nil && r.StoppedAt == 0
}

// Downloader fetches the pages of one document at a time, strictly in order
type Downloader struct {
	deps Dependencies
}

// New validates deps and fills in defaults for the optional collaborators
func New(deps Dependencies) (*Downloader, error) {
	switch {
	case deps.Transport == nil:
		return nil, errors.New("downloader: transport is required")
	case deps.Session == nil:
		return nil, errors.New("downloader: session is required")
	case deps.Store == nil:
		return nil, errors.New("downloader: artifact store is required")
	case deps.Reconstructor == nil:
		return nil, errors.New("downloader: reconstructor is required")
	}

	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewFixedDelay(0)
	}
	if deps.Tokens == nil {
		deps.Tokens = &token.Generator{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}

	return &Downloader{deps: deps}, nil
}

// Run downloads pages 1..handle.PageCount. The returned error equals
// Result.Err; the Result is never nil.
func (d *Downloader) Run(ctx context.Context, handle models.DocumentHandle, key models.KeyMaterial) (*Result, error) {
	result := &Result{Artifacts: make([]models.PageArtifact, 0, max(handle.PageCount, 0))}

	log := d.deps.Logger.WithFields(map[string]interface{}{
		"document": handle.DocumentID,
		"pages":    handle.PageCount,
	})
	log.Info("Starting document download")
	logger.LogKeyMaterial(log, key.CryptoKey, key.CryptoKeyID)

	d.deps.Limiter.Reset()
	checkedSession := false

	for page := 1; page <= handle.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return d.stop(log, result, handle.DocumentID, page, err)
		}

		path := d.deps.Store.PagePath(handle.DocumentID, page)
		if d.deps.Store.Exists(path) {
			d.advance(log, result, handle, models.PageArtifact{Page: page, Path: path, Skipped: true})
			continue
		}

		if !checkedSession {
			checkedSession = true
			if !d.deps.Session.IsAuthenticated() {
				return d.stop(log, result, handle.DocumentID, page, &errs.Error{
					Kind:    errs.KindAuthenticationExpired,
					Page:    page,
					Message: "no active session",
				})
			}
		}

		if err := d.deps.Limiter.Wait(ctx); err != nil {
			return d.stop(log, result, handle.DocumentID, page, err)
		}

		if err := d.fetch(ctx, handle, key, page, path); err != nil {
			return d.stop(log, result, handle.DocumentID, page, err)
		}
		d.advance(log, result, handle, models.PageArtifact{Page: page, Path: path})
	}

	log.InfoWithFields("Document download complete", map[string]interface{}{
		"artifacts": len(result.Artifacts),
	})
	return result, nil
}

// fetch requests, classifies, reconstructs and persists one page
func (d *Downloader) fetch(ctx context.Context, handle models.DocumentHandle, key models.KeyMaterial, page int, path string) error {
	tok := d.deps.Tokens.Generate(handle.DocumentID, page, key, d.deps.Clock())
	req := reader.PageRequest(d.deps.BaseURL, handle.DocumentID, page, tok)

	resp, err := d.deps.Transport.Send(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return atPage(err, page, errs.KindTransport)
	}

	parsed, err := d.classify(resp, page)
	if err != nil {
		return err
	}

	data, err := d.deps.Reconstructor.Reconstruct(parsed, key)
	if err != nil {
		return atPage(err, page, errs.KindDecryptionFailure)
	}

	if err := d.deps.Store.Write(path, data); err != nil {
		_ = d.deps.Store.Remove(path)
		return fmt.Errorf("persist page %d: %w", page, err)
	}
	return nil
}

// classify maps a transport response to a parsed page or a run-level error
func (d *Downloader) classify(resp *reader.Response, page int) (*protocol.PageResponse, error) {
	switch code := resp.StatusCode; {
	case code == 401 || code == 403:
		return nil, d.expire(&errs.Error{Kind: errs.KindAuthenticationExpired, Page: page, Code: code})
	case code == 429:
		return nil, &errs.Error{Kind: errs.KindRateLimited, Page: page, Code: code}
	case code < 200 || code >= 300:
		return nil, &errs.Error{Kind: errs.KindTransport, Page: page, Code: code, Message: "unexpected status"}
	}

	parsed := protocol.Parse(resp.StatusCode, resp.Body)

	if parsed.IsOK() {
		if !parsed.HasPayload() {
			return nil, &errs.Error{
				Kind:    errs.KindProtocolMismatch,
				Page:    page,
				Status:  parsed.StatusText,
				Message: "response carries neither slices nor vector markup",
			}
		}
		return parsed, nil
	}

	switch {
	case matchAny(parsed.StatusText, d.deps.AuthMarkers):
		return nil, d.expire(&errs.Error{Kind: errs.KindAuthenticationExpired, Page: page, Status: parsed.StatusText})
	case matchAny(parsed.StatusText, d.deps.RateLimitMarkers):
		return nil, &errs.Error{Kind: errs.KindRateLimited, Page: page, Status: parsed.StatusText}
	default:
		return nil, &errs.Error{
			Kind:    errs.KindProtocolMismatch,
			Page:    page,
			Status:  parsed.StatusText,
			Message: "unexpected status text (raw status " + parsed.Status + ")",
		}
	}
}

// expire invalidates the session before surfacing an authentication failure
func (d *Downloader) expire(e *errs.Error) error {
	if err := d.deps.Session.Invalidate(); err != nil {
		d.deps.Logger.WithError(err).Warn("Failed to invalidate session")
	}
	return e
}

func (d *Downloader) advance(log logger.Logger, result *Result, handle models.DocumentHandle, artifact models.PageArtifact) {
	result.Artifacts = append(result.Artifacts, artifact)

	outcome := OutcomeFetched
	if artifact.Skipped {
		outcome = OutcomeSkipped
	}
	logger.LogPage(log, handle.DocumentID, artifact.Page, outcome, nil)

	if d.deps.Progress != nil {
		d.deps.Progress(len(result.Artifacts), handle.PageCount, artifact)
	}
}

func (d *Downloader) stop(log logger.Logger, result *Result, documentID string, page int, err error) (*Result, error) {
	result.StoppedAt = page
	result.Err = err

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.WithField("page", page).Warn("Download cancelled")
	} else {
		logger.LogPage(log, documentID, page, OutcomeFailed, err)
	}
	return result, err
}

// atPage tags err with the page it happened on, keeping an existing kind
func atPage(err error, page int, fallback errs.Kind) error {
	var e *errs.Error
	if errors.As(err, &e) {
		tagged := *e
		if tagged.Page == 0 {
			tagged.Page = page
		}
		return &tagged
	}
	return &errs.Error{Kind: fallback, Page: page, Err: err}
}

func matchAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
