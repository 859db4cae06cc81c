package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/fabworks/wafersampler/pkg/repo"
	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/vendors"
)

// Error codes surfaced in the envelope. The engine's typed errors map to
// exactly one of these at this edge; inner layers never rewrap codes.
const (
	codeValidationError    = "validationError"
	codeNotFound           = "notFound"
	codeBusinessLogicError = "businessLogicError"
	codeFileUploadError    = "fileUploadError"
	codeParserError        = "parserError"
	codeLifecycleViolation = "lifecycleViolation"
	codeCompileError       = "compileError"
	codeTimeout            = "timeout"
	codeCancelled          = "cancelled"
	codePayloadTooLarge    = "payloadTooLarge"
	codeTooManyDies        = "tooManyDies"
	codeUnknownPlugin      = "unknownPlugin"
	codeInternalError      = "internalError"
)

// errorBody is the inner error object of the envelope.
type errorBody struct {
	Code             string                  `json:"code"`
	Message          string                  `json:"message"`
	Details          map[string]any          `json:"details,omitempty"`
	ValidationErrors []strategy.CompileIssue `json:"validation_errors,omitempty"`
}

// envelope is the uniform error response shape.
type envelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id"`
	Timestamp string    `json:"timestamp"`
}

// writeError renders the envelope with the request id stamped by the
// middleware.
func writeError(c fiber.Ctx, status int, body errorBody) error {
	reqID, _ := c.Locals("requestID").(string)
	return c.Status(status).JSON(envelope{
		Error:     body,
		RequestID: reqID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// badRequest is the shorthand for request-shape problems.
func badRequest(c fiber.Ctx, message string) error {
	return writeError(c, http.StatusBadRequest, errorBody{Code: codeValidationError, Message: message})
}

// respondError translates an engine error to HTTP exactly once, here.
func respondError(c fiber.Ctx, err error) error {
	var (
		parseErr     *schematic.ParseError
		noDies       *schematic.ErrNoDies
		compileErr   *strategy.CompileError
		unknownRule  *strategy.ErrUnknownPlugin
		unknownVend  *vendors.ErrUnknownVendor
		notFound     *repo.ErrNotFound
		conflict     *repo.ErrConflict
		lifecycleErr *repo.LifecycleError
	)
	switch {
	case errors.As(err, &parseErr):
		details := map[string]any{"format": string(parseErr.Format)}
		if parseErr.Offset > 0 {
			details["offset"] = parseErr.Offset
		}
		return writeError(c, http.StatusBadRequest, errorBody{
			Code: codeParserError, Message: err.Error(), Details: details,
		})
	case errors.As(err, &noDies):
		return writeError(c, http.StatusUnprocessableEntity, errorBody{
			Code:    codeParserError,
			Message: err.Error(),
			Details: map[string]any{"format": string(noDies.Format)},
		})
	case errors.As(err, &compileErr):
		return writeError(c, http.StatusUnprocessableEntity, errorBody{
			Code:             codeCompileError,
			Message:          "strategy does not compile",
			ValidationErrors: compileErr.Issues,
		})
	case errors.As(err, &unknownRule):
		return writeError(c, http.StatusUnprocessableEntity, errorBody{
			Code: codeUnknownPlugin, Message: err.Error(),
			Details: map[string]any{"kind": unknownRule.Kind, "name": unknownRule.Name},
		})
	case errors.As(err, &unknownVend):
		return writeError(c, http.StatusUnprocessableEntity, errorBody{
			Code: codeUnknownPlugin, Message: err.Error(),
			Details: map[string]any{"kind": "vendor", "name": unknownVend.Name},
		})
	case errors.As(err, &notFound):
		return writeError(c, http.StatusNotFound, errorBody{Code: codeNotFound, Message: err.Error()})
	case errors.As(err, &conflict):
		return writeError(c, http.StatusConflict, errorBody{Code: codeBusinessLogicError, Message: err.Error()})
	case errors.As(err, &lifecycleErr):
		return writeError(c, http.StatusConflict, errorBody{
			Code:    codeLifecycleViolation,
			Message: err.Error(),
			Details: map[string]any{"from": string(lifecycleErr.From), "to": string(lifecycleErr.To)},
		})
	case errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusGatewayTimeout, errorBody{Code: codeTimeout, Message: "operation exceeded its time limit"})
	case errors.Is(err, context.Canceled):
		return writeError(c, http.StatusGatewayTimeout, errorBody{Code: codeCancelled, Message: "operation was cancelled"})
	}
	return writeError(c, http.StatusInternalServerError, errorBody{
		Code: codeInternalError, Message: "unexpected error",
	})
}

// fiberErrorHandler renders fiber's own errors (body limit, bad routes)
// through the same envelope.
func fiberErrorHandler(c fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case http.StatusRequestEntityTooLarge:
			return writeError(c, fe.Code, errorBody{Code: codePayloadTooLarge, Message: "request body exceeds the upload limit"})
		case http.StatusNotFound:
			return writeError(c, fe.Code, errorBody{Code: codeNotFound, Message: fe.Message})
		default:
			return writeError(c, fe.Code, errorBody{Code: codeInternalError, Message: fe.Message})
		}
	}
	return respondError(c, err)
}
