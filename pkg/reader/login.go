package reader

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	errs "znum/pkg/errors"
	"znum/pkg/protocol"
)

const (
	csrfMarker = `name="csrf-token" content="`
	// loginFormField is present only while the login form is shown
	loginFormField = `name="LoginForm[password]"`
)

// Login signs in with the reader's login form. Session cookies end up in
// the client's cookie jar; persisting them is up to the caller.
func (c *Client) Login(ctx context.Context, username, password string) error {
	loginURL := LoginURL(c.baseURL)

	c.logger.InfoWithFields("logging in", map[string]interface{}{
		"username": username,
	})

	page, err := c.Send(ctx, &Request{Method: http.MethodGet, URL: loginURL})
	if err != nil {
		return err
	}
	if err := expectSuccess(page, "failed to open login page"); err != nil {
		return err
	}

	csrf, ok := protocol.TextBetween(page.Body, csrfMarker, `"`)
	if !ok || csrf == "" {
		return errs.New(errs.KindProtocolMismatch, "csrf token not found on login page")
	}

	form := url.Values{}
	form.Set("_csrf-frontend", csrf)
	form.Set("LoginForm[username]", username)
	form.Set("LoginForm[password]", password)
	form.Set("LoginForm[rememberMe]", "1")
	form.Set("LoginForm[returnUrl]", c.baseURL)
	form.Set("did", "")
	form.Set("pid", "")
	form.Set("page", "")
	form.Set("login-button", "")

	result, err := c.Send(ctx, &Request{
		Method:  http.MethodPost,
		URL:     loginURL,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return err
	}
	if err := expectSuccess(result, "login request failed"); err != nil {
		return err
	}
	if strings.Contains(result.Body, loginFormField) {
		return errs.New(errs.KindAuthenticationExpired, "login rejected; check username and password")
	}

	home, err := c.Send(ctx, &Request{Method: http.MethodGet, URL: c.baseURL})
	if err != nil {
		return err
	}
	if err := expectSuccess(home, "failed to open home page"); err != nil {
		return err
	}

	c.logger.Info("login succeeded")
	return nil
}

func expectSuccess(resp *Response, message string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &errs.Error{Kind: errs.KindTransport, Code: resp.StatusCode, Message: message}
}
