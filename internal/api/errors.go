package api

import (
	"errors"
	"net/http"

	"github.com/roadbuddy/fleetwatch/internal/ingress"
	"github.com/roadbuddy/fleetwatch/internal/roster"
)

// MsgDriverNotFound is the 404 body for unknown vehicles.
const MsgDriverNotFound = "Driver not found"

// ToAPIError maps err to a status code and message.
func ToAPIError(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case ingress.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, roster.ErrNotFound):
		return http.StatusNotFound, MsgDriverNotFound
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// writeAPIError writes err using ToAPIError.
func writeAPIError(w http.ResponseWriter, err error) {
	status, message := ToAPIError(err)
	WriteError(w, status, message)
}
