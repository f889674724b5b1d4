package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"strings"

	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
)

// errorInfo is embedded in every command output so failures share one
// envelope shape.
type errorInfo struct {
	Error         string `json:"error,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	Retryable     *bool  `json:"retryable,omitempty"`
	Hint          string `json:"hint,omitempty"`
}

func errorInfoFor(err error) errorInfo {
	if err == nil {
		return errorInfo{}
	}
	info := errorInfo{Error: err.Error()}
	if coreerrors.IsClassified(err) {
		info.ErrorCode = coreerrors.CodeOf(err)
		info.ErrorCategory = string(coreerrors.CategoryOf(err))
		retryable := coreerrors.RetryableOf(err)
		info.Retryable = &retryable
		info.Hint = coreerrors.HintOf(err)
	}
	return info
}

func writeJSONOutput(output any, exitCode int) int {
	encoded, err := marshalOutputWithErrorEnvelope(output, exitCode)
	if err != nil {
		fmt.Println(`{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
		return exitInvalidInput
	}
	fmt.Println(string(encoded))
	return exitCode
}

func marshalOutputWithErrorEnvelope(output any, exitCode int) ([]byte, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, err
	}
	if strings.TrimSpace(asString(result["error"])) == "" {
		return json.Marshal(result)
	}
	if strings.TrimSpace(asString(result["error_code"])) == "" {
		result["error_code"] = defaultErrorCode(exitCode)
	}
	if strings.TrimSpace(asString(result["error_category"])) == "" {
		result["error_category"] = string(defaultErrorCategory(exitCode))
	}
	if _, exists := result["retryable"]; !exists {
		result["retryable"] = coreerrors.Category(asString(result["error_category"])) == coreerrors.CategoryNetworkTransient
	}
	if strings.TrimSpace(asString(result["hint"])) == "" {
		result["hint"] = defaultHint(exitCode)
	}
	return json.Marshal(result)
}

func exitCodeForError(err error, fallbackExit int) int {
	if err == nil {
		return exitOK
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryInvalidInput:
		return exitInvalidInput
	case coreerrors.CategoryValidation, coreerrors.CategoryCorruptPayload:
		return exitValidationFailed
	case coreerrors.CategoryNotFound:
		return exitNotFound
	case coreerrors.CategoryNetworkTransient, coreerrors.CategoryNetworkPermanent:
		return exitBackendUnavailable
	case coreerrors.CategoryIOFailure, coreerrors.CategoryInternalFailure:
		return exitInternalFailure
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return exitBackendUnavailable
	}
	return fallbackExit
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	switch exitCode {
	case exitInvalidInput:
		return coreerrors.CategoryInvalidInput
	case exitValidationFailed:
		return coreerrors.CategoryValidation
	case exitNotFound:
		return coreerrors.CategoryNotFound
	case exitBackendUnavailable:
		return coreerrors.CategoryNetworkTransient
	default:
		return coreerrors.CategoryInternalFailure
	}
}

func defaultErrorCode(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "invalid_input"
	case exitValidationFailed:
		return "validation_failed"
	case exitNotFound:
		return "not_found"
	case exitBackendUnavailable:
		return "backend_unavailable"
	default:
		return "internal_failure"
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "check command usage and flags"
	case exitValidationFailed:
		return "fix the reported issues and validate again"
	case exitNotFound:
		return "check the path or slot name"
	case exitBackendUnavailable:
		return "start the preview backend or check backend.url"
	default:
		return "retry after checking local environment and logs"
	}
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
