package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"syscall"

	"github.com/firgia/soca/auth"
	"github.com/firgia/soca/errs"
	"github.com/firgia/soca/ptr"
	"github.com/firgia/soca/types"
	"github.com/firgia/soca/validator"
)

const maxBodySize = 1 << 20

var (
	errRouteNotFound  = errs.NewNotFoundError("route not found")
	errMalformedBody  = errs.NewInvalidArgumentError("body", "malformed JSON body")
	errInvalidToken   = errs.NewUnauthenticatedError("invalid bearer token")
	errUnexpectedFail = errors.New("an unexpected error occurred")
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    errs.Kind           `json:"kind"`
	Message string              `json:"message"`
	Field   *string             `json:"field,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v any, statusCode int) {
	b, err := json.Marshal(v)
	if err != nil {
		h.respondErr(w, r, fmt.Errorf("json marshal http response body: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, err = w.Write(b)
	if err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, context.Canceled) {
		h.ErrorLogger.Error("write http response", "req_method", r.Method, "req_url", r.URL.String(), "err", err)
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := errorToStatusCode(err)
	if statusCode == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.ErrorLogger.Error("got error", "req_method", r.Method, "req_url", r.URL.String(), "err", err)
	}
	h.respond(w, r, errorBody{Error: maskError(err)}, statusCode)
}

// maskError exposes taxonomy errors as they are and hides everything
// else behind a generic message.
func maskError(err error) errorDetail {
	var errValidator *validator.Validator
	if errors.As(err, &errValidator) {
		out := errorDetail{
			Kind:    errs.KindInvalidArgument,
			Message: errValidator.Error(),
			Errors:  errValidator.Errors,
		}
		for field := range errValidator.Errors {
			if out.Field == nil || field < *out.Field {
				out.Field = ptr.From(field)
			}
		}
		return out
	}

	var errTypes *errs.Error
	if errors.As(err, &errTypes) {
		return errorDetail{
			Kind:    errTypes.Kind,
			Message: errTypes.Message,
			Field:   errTypes.Field,
		}
	}

	return errorDetail{
		Kind:    "internal",
		Message: errUnexpectedFail.Error(),
	}
}

func errorToStatusCode(err error) int {
	var errValidator *validator.Validator
	if errors.As(err, &errValidator) {
		return http.StatusUnprocessableEntity
	}

	kind, ok := errs.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidArgument:
		return http.StatusUnprocessableEntity
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindPermissionDenied:
		return http.StatusForbidden
	case errs.KindAlreadyExists:
		return http.StatusConflict
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched
// so validation reports the missing fields. Anonymous requests are
// rejected before the body is looked at.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()

	if _, ok := auth.UserIDFromContext(r.Context()); !ok {
		return errs.Unauthenticated
	}

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return errMalformedBody
	}
	return nil
}

func parsePageArgs(r *http.Request) types.PageArgs {
	var pageArgs types.PageArgs

	q := r.URL.Query()
	if q.Has("first") {
		first, err := strconv.ParseUint(q.Get("first"), 10, 64)
		if err != nil {
			// zero is rejected by validation, after authentication
			first = 0
		}
		pageArgs.First = ptr.From(uint(first))
	}

	if q.Has("after") {
		pageArgs.After = ptr.From(q.Get("after"))
	}

	return pageArgs
}
