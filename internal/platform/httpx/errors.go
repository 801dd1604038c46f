// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

// ErrValidation marks malformed requests rejected before reaching a service.
var ErrValidation = errors.New("validation failed")

var kindStatus = map[issues.Kind]int{
	issues.KindInvalidInput:              http.StatusBadRequest,
	issues.KindNotFound:                  http.StatusNotFound,
	issues.KindSyncConflict:              http.StatusConflict,
	issues.KindMissingExchangeRate:       http.StatusUnprocessableEntity,
	issues.KindHierarchyCycleOrGap:       http.StatusUnprocessableEntity,
	issues.KindUnmappedAccount:           http.StatusUnprocessableEntity,
	issues.KindPartialTransactionFailure: http.StatusServiceUnavailable,
}

// StatusFor returns the HTTP status of an error kind.
func StatusFor(kind issues.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps errors to RFC7807 responses carrying the error kind and
// the affected keys. Internal errors hide their detail.
func RespondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrValidation) {
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		WriteProblem(w, ProblemDetail{Title: "Timeout", Status: http.StatusGatewayTimeout, Kind: string(issues.KindInternal)})
		return
	}
	kind := issues.KindOf(err)
	status := StatusFor(kind)
	problem := ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Kind:   string(kind),
		Keys:   issues.KeysOf(err),
	}
	if status != http.StatusInternalServerError {
		problem.Detail = err.Error()
	}
	WriteProblem(w, problem)
}
