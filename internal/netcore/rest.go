package netcore

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/server-client-editor/ClientSide/internal/shared"
)

// RESTWorker issues HTTPS requests for captcha, signup, and login against a
// fixed base URL, using the configured root certificate pool and no system
// proxy. It is shareable: the underlying *http.Client is reused across
// requests, each of which runs as its own short-lived Registry task.
type RESTWorker struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewRESTWorker builds the shared client once at core construction from the
// given root certificate pool. A nil or empty pool is a caller error: TLS
// setup failure at construction is fatal to the core.
func NewRESTWorker(baseURL string, rootCAs *x509.CertPool, logger *slog.Logger) *RESTWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTWorker{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: rootCAs},
				Proxy:           nil,
			},
		},
		logger: logger,
	}
}

func (w *RESTWorker) url(suffix string) string {
	return w.baseURL + "/" + strings.TrimPrefix(suffix, "/")
}

// FetchCaptcha issues GET captcha. Any non-2xx or transport failure maps to
// FallbackError; the current mapping has no finer-grained captcha error.
func (w *RESTWorker) FetchCaptcha(ctx context.Context) (NetworkEvent, error) {
	w.logger.Debug("fetching captcha", "trace_id", shared.TraceID(ctx))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url("captcha"), nil)
	if err != nil {
		return nil, fmt.Errorf("build captcha request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return CaptchaEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CaptchaEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
	}

	var body captchaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return CaptchaEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
	}
	return CaptchaEvent{ID: body.ID, ImageBase64: body.ImageBase64}, nil
}

// Signup issues POST signup. Status mapping: 409 DuplicateName, 422
// WeakPassword, 400 with {code:"wrong_captcha"} WrongCaptcha, else
// FallbackError.
func (w *RESTWorker) Signup(ctx context.Context, username, password, captchaID, captchaAnswer string) (NetworkEvent, error) {
	traceID := shared.TraceID(ctx)
	w.logger.Debug("signup attempt",
		"trace_id", traceID,
		"username", username,
		"captcha_id", captchaID,
		"credentials", shared.Redact(fmt.Sprintf("password=%s captcha_answer=%s", password, captchaAnswer)),
	)

	body := credentialsRequest{Username: username, Password: password, CaptchaID: captchaID, CaptchaAnswer: captchaAnswer}
	resp, err := w.postJSON(ctx, "signup", body)
	if err != nil {
		w.logger.Warn("signup request failed", "trace_id", traceID, "err", err)
		return SignupEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return SignupEvent{}, nil
	}

	w.logger.Debug("signup rejected", "trace_id", traceID, "status", resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusConflict:
		return SignupEvent{Err: &ProtocolError{Kind: ErrDuplicateName}}, nil
	case http.StatusUnprocessableEntity:
		return SignupEvent{Err: &ProtocolError{Kind: ErrWeakPassword}}, nil
	case http.StatusBadRequest:
		if errBody(resp).Code == "wrong_captcha" {
			return SignupEvent{Err: &ProtocolError{Kind: ErrWrongCaptcha}}, nil
		}
	}
	return SignupEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
}

// Login issues POST login. Status mapping: 401 Unauthorized, 400 with
// {code:"wrong_captcha"} WrongCaptcha, else FallbackError. Responses are
// decoded with DisallowUnknownFields per the strict-schema requirement.
func (w *RESTWorker) Login(ctx context.Context, username, password, captchaID, captchaAnswer string) (NetworkEvent, error) {
	traceID := shared.TraceID(ctx)
	w.logger.Debug("login attempt",
		"trace_id", traceID,
		"username", username,
		"captcha_id", captchaID,
		"credentials", shared.Redact(fmt.Sprintf("password=%s captcha_answer=%s", password, captchaAnswer)),
	)

	body := credentialsRequest{Username: username, Password: password, CaptchaID: captchaID, CaptchaAnswer: captchaAnswer}
	resp, err := w.postJSON(ctx, "login", body)
	if err != nil {
		w.logger.Warn("login request failed", "trace_id", traceID, "err", err)
		return LoginEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return LoginEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
		}
		var out loginResponse
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&out); err != nil {
			return LoginEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
		}
		w.logger.Debug("login succeeded",
			"trace_id", traceID,
			"user_id", out.UserID,
			"access_token", shared.Redact("access_token="+out.AuthTokens.AccessToken),
		)
		return LoginEvent{UserID: out.UserID, AccessToken: out.AuthTokens.AccessToken}, nil
	}

	w.logger.Debug("login rejected", "trace_id", traceID, "status", resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return LoginEvent{Err: &ProtocolError{Kind: ErrUnauthorized}}, nil
	case http.StatusBadRequest:
		if errBody(resp).Code == "wrong_captcha" {
			return LoginEvent{Err: &ProtocolError{Kind: ErrWrongCaptcha}}, nil
		}
	}
	return LoginEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
}

func (w *RESTWorker) postJSON(ctx context.Context, suffix string, payload any) (*http.Response, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", suffix, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url(suffix), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", suffix, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return w.client.Do(req)
}

// errBody best-effort decodes a {code: "..."} error body. A response body
// is consumed here for inspection; callers that already returned have no
// further use for it.
func errBody(resp *http.Response) apiErrorBody {
	var body apiErrorBody
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return body
	}
	_ = json.Unmarshal(raw, &body)
	return body
}
