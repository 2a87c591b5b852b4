package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/makeasinger/storystudio/internal/model"
)

// classifyStatus maps a provider HTTP status to an error kind.
func classifyStatus(provider string, status int, body string, header http.Header) *model.Error {
	msg := provider + " error (status " + strconv.Itoa(status) + ")"
	if body = strings.TrimSpace(body); body != "" {
		if len(body) > 300 {
			body = body[:300]
		}
		msg += ": " + body
	}

	var kind model.Kind
	switch {
	case status == http.StatusTooManyRequests:
		kind = model.KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = model.KindUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = model.KindTimeout
	case status == http.StatusServiceUnavailable:
		kind = model.KindUnavailable
	case status >= 500:
		kind = model.KindTransient
	default:
		kind = model.KindInvalidRequest
	}

	e := model.NewError(kind, "%s", msg)
	if header != nil {
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	}
	return e
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// classifyTransport maps errors raised before a response arrived.
func classifyTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.WrapError(model.KindTimeout, err, "%s request timed out", provider)
	}
	return model.WrapError(model.KindTransient, err, "%s request failed", provider)
}

// classifyOpenAI maps go-openai errors to error kinds.
func classifyOpenAI(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := classifyStatus(provider, apiErr.HTTPStatusCode, apiErr.Message, nil)
		e.Cause = err
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := classifyStatus(provider, reqErr.HTTPStatusCode, "", nil)
		e.Cause = err
		return e
	}
	return classifyTransport(provider, err)
}
