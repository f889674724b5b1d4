package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Message    string
	Issues     []validation.Issue
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded %d", e.StatusCode)
	}
	return fmt.Sprintf("backend responded %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the issue list to validation.IssuesOf.
func (e *StatusError) Unwrap() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return &validation.InvalidError{Issues: e.Issues}
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type errorDetail struct {
	Message string       `json:"message"`
	Issues  []issueEntry `json:"issues"`
}

type issueEntry struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// requestIssue is the framework's own request-validation entry.
type requestIssue struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// decodeStatusError reads a detail object, a detail string or a list of
// request issues. Anything else keeps the status text.
func decodeStatusError(status int, raw []byte) *StatusError {
	out := &StatusError{StatusCode: status}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 {
		var detail errorDetail
		var text string
		var requestIssues []requestIssue
		switch {
		case json.Unmarshal(body.Detail, &detail) == nil:
			out.Message = strings.TrimSpace(detail.Message)
			for _, issue := range detail.Issues {
				out.Issues = append(out.Issues, toIssue(issue))
			}
		case json.Unmarshal(body.Detail, &text) == nil:
			out.Message = strings.TrimSpace(text)
		case json.Unmarshal(body.Detail, &requestIssues) == nil:
			out.Message = "request rejected"
			for _, entry := range requestIssues {
				out.Issues = append(out.Issues, toIssue(issueEntry{Path: locPath(entry.Loc), Message: entry.Msg, Type: entry.Type}))
			}
		}
	}
	if out.Message == "" {
		out.Message = strings.ToLower(http.StatusText(status))
	}
	return out
}

func locPath(loc []any) string {
	if len(loc) == 0 {
		return ""
	}
	parts := make([]string, 0, len(loc))
	for _, part := range loc {
		parts = append(parts, fmt.Sprint(part))
	}
	return "/" + strings.Join(parts, "/")
}

func toIssue(entry issueEntry) validation.Issue {
	issue := validation.Issue{
		Path:    strings.TrimSpace(entry.Path),
		Message: strings.TrimSpace(entry.Message),
		Keyword: strings.TrimSpace(entry.Type),
	}
	if issue.Path == "" {
		issue.Path = validation.RootPath
	}
	if issue.Message == "" {
		issue.Message = validation.DefaultMessage
	}
	return issue
}

func classifyStatus(status *StatusError) error {
	switch {
	case status.StatusCode == http.StatusNotFound:
		return coreerrors.Wrap(status, coreerrors.CategoryNotFound, "backend_not_found", "", false)
	case status.StatusCode == http.StatusUnprocessableEntity, status.StatusCode == http.StatusBadRequest && len(status.Issues) > 0:
		return coreerrors.Wrap(status, coreerrors.CategoryValidation, "backend_validation", "fix the listed issues and try again", false)
	case status.StatusCode == http.StatusTooManyRequests, status.StatusCode == http.StatusRequestTimeout, status.StatusCode >= 500:
		return coreerrors.Wrap(status, coreerrors.CategoryNetworkTransient, "backend_unavailable", "the backend may still be starting", true)
	default:
		return coreerrors.Wrap(status, coreerrors.CategoryNetworkPermanent, "backend_rejected", "", false)
	}
}
