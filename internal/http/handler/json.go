package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
)

// decodeJSON reads exactly one JSON object into dst and rejects unknown
// fields.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperr.New(apperr.KindBadRequest, "request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperr.New(apperr.KindBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			return apperr.New(apperr.KindBadRequest, "request body is required")
		default:
			return apperr.Wrap(apperr.KindBadRequest, "invalid json body", err)
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.New(apperr.KindBadRequest, "request body must contain a single json object")
	}
	return nil
}
