// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for decoding and validating request data.
// Bodies are JSON and checked against validator tags; path and query values
// share one set of parsers so every handler rejects bad input alike.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"feeledger/internal/core"
)

// maxBodyBytes caps request bodies; the largest legitimate body is a
// receipt with one settlement per month.
const maxBodyBytes = 64 << 10

// requestError is a malformed request. It never reaches the service.
type requestError struct {
	msg        string
	validation error
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

var validate = newValidator()

// newValidator reports fields by their JSON names and knows the ledger's
// own vocabularies.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("payment_mode", func(fl validator.FieldLevel) bool {
		_, err := core.ParsePaymentMode(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("month", func(fl validator.FieldLevel) bool {
		_, err := parseMonth(fl.Field().String())
		return err == nil
	})
	return v
}

// decodeJSON reads one JSON object into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return badRequest("content type must be application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		case errors.As(err, &maxErr):
			return badRequest("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, core.ErrInvalidAmount):
			return badRequest("invalid amount")
		default:
			return badRequest("malformed JSON: %v", err)
		}
	}
	if dec.More() {
		return badRequest("request body must hold a single JSON object")
	}
	if err := validate.Struct(dst); err != nil {
		return &requestError{msg: "request validation failed", validation: err}
	}
	return nil
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryID parses a positive integer query parameter. Missing values are an
// error when required and zero otherwise.
func queryID(q url.Values, name string, required bool) (int64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		if required {
			return 0, badRequest("missing %s", name)
		}
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryMonth parses an optional month parameter; zero means absent.
func queryMonth(q url.Values, name string) (time.Month, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	m, err := parseMonth(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return m, nil
}

// queryTime parses an optional date or timestamp parameter.
func queryTime(q url.Values, name string) (time.Time, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return time.Time{}, badRequest("invalid %s %q", name, raw)
	}
	return t, nil
}

// queryLimit parses a page size, bounded to [1, max].
func queryLimit(q url.Values, def, max int) (int, error) {
	raw := strings.TrimSpace(q.Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, badRequest("invalid limit %q", raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}
