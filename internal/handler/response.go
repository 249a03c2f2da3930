// Package handler exposes the account coordinator over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/account-admin/internal/account"
	"github.com/iliyamo/account-admin/internal/identity"
)

// Response is the envelope of every JSON body the API writes.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// statusOf maps a coordinator error kind to an HTTP status.
func statusOf(k account.Kind) int {
	switch k {
	case account.KindValidation:
		return http.StatusBadRequest
	case account.KindAuthorization:
		return http.StatusForbidden
	case account.KindNotFound:
		return http.StatusNotFound
	case account.KindConflict:
		return http.StatusConflict
	case account.KindRemoteProvider:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func ok(c echo.Context, status int, msg string, data any) error {
	return c.JSON(status, Response{Success: true, Message: msg, Data: data})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, Response{Message: msg, Error: string(account.KindValidation)})
}

// fail writes err.  Local store failures are logged with their cause on
// the request logger but answered with a generic message.  Provider
// failures carry a short detail; the provider's own body never leaves.
func fail(c echo.Context, err error) error {
	kind := account.KindOf(err)
	msg := err.Error()
	var ae *account.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	var detail string
	switch kind {
	case account.KindLocalStore:
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("request failed")
		msg = "internal error"
	case account.KindRemoteProvider:
		zerolog.Ctx(c.Request().Context()).Warn().Err(err).Msg("identity provider failed")
		detail = remoteDetail(err)
	}
	return c.JSON(statusOf(kind), Response{Message: msg, Error: string(kind), Detail: detail})
}

func remoteDetail(err error) string {
	var ie *identity.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "identity provider timed out"
	case errors.Is(err, identity.ErrConflict):
		return "identity provider reports the email as taken"
	case errors.Is(err, identity.ErrNotFound):
		return "identity provider has no such user"
	case errors.As(err, &ie) && ie.Status != 0:
		return fmt.Sprintf("identity provider %s returned status %d", ie.Op, ie.Status)
	case errors.As(err, &ie):
		return fmt.Sprintf("identity provider %s failed before a response", ie.Op)
	}
	return ""
}
