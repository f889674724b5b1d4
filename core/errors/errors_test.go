package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("disk full")
	err := Wrap(base, CategoryIOFailure, "autosave_write_failed", "free disk space and retry the autosave", false)
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if CategoryOf(err) != CategoryIOFailure {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "autosave_write_failed" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "free disk space and retry the autosave" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if RetryableOf(err) {
		t.Fatal("expected retryable false")
	}
	if !stderrors.Is(err, base) {
		t.Fatal("expected wrapped error to preserve cause")
	}
}

func TestClassificationSurvivesFmtWrapping(t *testing.T) {
	err := Wrap(stderrors.New("connection refused"), CategoryNetworkTransient, "backend_unreachable", "start the backend", true)
	outer := fmt.Errorf("load slot: %w", err)
	if !IsClassified(outer) {
		t.Fatalf("expected classified error through fmt wrapping")
	}
	if CategoryOf(outer) != CategoryNetworkTransient || !RetryableOf(outer) {
		t.Fatalf("unexpected classification: %s retryable=%t", CategoryOf(outer), RetryableOf(outer))
	}
}

func TestUnknownErrorDefaults(t *testing.T) {
	err := stderrors.New("plain")
	if CategoryOf(err) != "" {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if RetryableOf(err) || IsClassified(err) {
		t.Fatal("unexpected classification for plain error")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if got := Wrap(nil, CategoryInternalFailure, "internal_failure", "retry later", false); got != nil {
		t.Fatalf("expected nil wrapped error, got=%v", got)
	}
}

func TestClassifiedErrorNilCauseDefaults(t *testing.T) {
	err := &classifiedError{
		category:  CategoryNetworkTransient,
		code:      "network_transient",
		hint:      "retry request",
		retryable: true,
	}
	if err.Error() != "unknown error" {
		t.Fatalf("unexpected nil-cause error text: %s", err.Error())
	}
	if err.Unwrap() != nil {
		t.Fatalf("expected unwrap nil for nil cause")
	}
	if err.Category() != CategoryNetworkTransient || err.Code() != "network_transient" || err.Hint() != "retry request" || !err.Retryable() {
		t.Fatalf("unexpected accessors: %+v", err)
	}
}

func TestHandlingOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Handling
	}{
		{name: "nil", err: nil, want: ""},
		{name: "network", err: Wrap(stderrors.New("x"), CategoryNetworkTransient, "c", "h", true), want: HandlingAutoRetry},
		{name: "validation", err: Wrap(stderrors.New("x"), CategoryValidation, "c", "h", false), want: HandlingValidation},
		{name: "corrupt", err: Wrap(stderrors.New("x"), CategoryCorruptPayload, "c", "h", false), want: HandlingTerminal},
		{name: "internal", err: Wrap(stderrors.New("x"), CategoryInternalFailure, "c", "h", false), want: HandlingTerminal},
		{name: "io", err: Wrap(stderrors.New("x"), CategoryIOFailure, "c", "h", false), want: HandlingManual},
		{name: "retryable io", err: Wrap(stderrors.New("x"), CategoryIOFailure, "c", "h", true), want: HandlingAutoRetry},
		{name: "plain", err: stderrors.New("x"), want: HandlingManual},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HandlingOf(tc.err); got != tc.want {
				t.Fatalf("HandlingOf=%q want %q", got, tc.want)
			}
		})
	}
}

func TestCategorySetIsStableAndUnique(t *testing.T) {
	categories := []Category{
		CategoryInvalidInput,
		CategoryValidation,
		CategoryNotFound,
		CategoryIOFailure,
		CategoryCorruptPayload,
		CategoryNetworkTransient,
		CategoryNetworkPermanent,
		CategoryInternalFailure,
	}
	seen := map[Category]struct{}{}
	for _, category := range categories {
		if category == "" {
			t.Fatalf("category must not be empty")
		}
		if _, exists := seen[category]; exists {
			t.Fatalf("duplicate category: %s", category)
		}
		seen[category] = struct{}{}
	}
	if len(seen) != 8 {
		t.Fatalf("expected 8 categories, got %d", len(seen))
	}
}
