// Package retry provides exponential backoff and retry logic for transient
// failures of reader requests.
//
// Only transport-level failures are retried here: network errors and HTTP
// 408, 429 and 5xx responses. Page-level failures reported by the reader in
// a successful response are never retried; a run stops on them and is
// resumed by invoking it again.
//
//	cfg := retry.FromConfig(appCfg.Retry, log)
//	resp, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
//		return client.Do(req.WithContext(ctx))
//	})
package retry
