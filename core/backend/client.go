// Package backend talks to the NodeVision backend over HTTP: health, node
// catalog, slot storage and preview rendering.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	coreerrors "github.com/hajimeno-ipoo/NodeVision-Editor/core/errors"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/preview"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/project"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/recovery"
	"github.com/hajimeno-ipoo/NodeVision-Editor/core/validation"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8000"
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 64 * 1024 * 1024
)

var ErrSlotNotFound = errors.New("backend slot not found")

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Gate validates documents loaded from a slot before they reach the
	// session. Nil skips validation.
	Gate   *validation.Gate
	Logger *slog.Logger
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	gate    *validation.Gate
	logger  *slog.Logger
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("parse backend url: %w", err), coreerrors.CategoryInvalidInput, "backend_url_invalid", "", false)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, coreerrors.Wrap(fmt.Errorf("backend url %q must use http or https", raw), coreerrors.CategoryInvalidInput, "backend_url_invalid", "", false)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: parsed,
		http:    httpClient,
		gate:    opts.Gate,
		logger:  logger.With(slog.String("component", "backend")),
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return Health{}, err
	}
	return health, nil
}

func (c *Client) Catalog(ctx context.Context) ([]project.CatalogItem, error) {
	var items []project.CatalogItem
	if err := c.do(ctx, http.MethodGet, "/nodes/catalog", nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []project.CatalogItem{}
	}
	return items, nil
}

type slotRequest struct {
	Slot string `json:"slot"`
}

type loadResponse struct {
	Slot    string          `json:"slot"`
	Path    string          `json:"path"`
	Project json.RawMessage `json:"project"`
	Summary project.Summary `json:"summary"`
}

// Load fetches the document stored in slot. A missing slot is reported as a
// not_found error wrapping ErrSlotNotFound.
func (c *Client) Load(ctx context.Context, slot string) (recovery.SlotDocument, error) {
	slot = recovery.NormalizeSlot(slot)
	var response loadResponse
	if err := c.do(ctx, http.MethodPost, "/projects/load", slotRequest{Slot: slot}, &response); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return recovery.SlotDocument{}, coreerrors.Wrap(
				fmt.Errorf("slot %q: %w: %w", slot, ErrSlotNotFound, status),
				coreerrors.CategoryNotFound, "slot_not_found", "save to the slot first", false,
			)
		}
		return recovery.SlotDocument{}, err
	}
	if len(bytes.TrimSpace(response.Project)) == 0 {
		return recovery.SlotDocument{}, coreerrors.Wrap(fmt.Errorf("slot %q response carries no project", slot), coreerrors.CategoryCorruptPayload, "slot_payload_missing", "", false)
	}
	if c.gate != nil {
		if result := c.gate.Validate(response.Project); !result.Valid {
			return recovery.SlotDocument{}, validation.Invalid(result.Issues)
		}
	}
	loaded, err := project.Parse(response.Project)
	if err != nil {
		return recovery.SlotDocument{}, coreerrors.Wrap(err, coreerrors.CategoryCorruptPayload, "slot_payload_invalid", "", false)
	}
	resolved := strings.TrimSpace(response.Slot)
	if resolved == "" {
		resolved = slot
	}
	summary := response.Summary
	if summary == (project.Summary{}) {
		summary = loaded.Summary()
	}
	return recovery.SlotDocument{Slot: resolved, Path: response.Path, Project: loaded, Summary: summary}, nil
}

type saveRequest struct {
	Project *project.Project `json:"project"`
	Slot    string           `json:"slot"`
}

type SaveResult struct {
	Slot    string          `json:"slot"`
	Path    string          `json:"path"`
	Summary project.Summary `json:"summary"`
}

func (c *Client) Save(ctx context.Context, p *project.Project, slot string) (SaveResult, error) {
	if p == nil {
		return SaveResult{}, coreerrors.Wrap(fmt.Errorf("no project to save"), coreerrors.CategoryInvalidInput, "save_project_missing", "", false)
	}
	slot = recovery.NormalizeSlot(slot)
	var result SaveResult
	if err := c.do(ctx, http.MethodPost, "/projects/save", saveRequest{Project: p, Slot: slot}, &result); err != nil {
		return SaveResult{}, err
	}
	if result.Slot == "" {
		result.Slot = slot
	}
	return result, nil
}

type previewRequest struct {
	Project    *project.Project `json:"project"`
	ForceProxy *bool            `json:"forceProxy,omitempty"`
}

func (c *Client) GeneratePreview(ctx context.Context, p *project.Project, opts preview.Options) (preview.Result, error) {
	if p == nil {
		return preview.Result{}, coreerrors.Wrap(fmt.Errorf("no project to render"), coreerrors.CategoryInvalidInput, "preview_project_missing", "", false)
	}
	var result preview.Result
	if err := c.do(ctx, http.MethodPost, "/preview/generate", previewRequest{Project: p, ForceProxy: opts.ForceProxy}, &result); err != nil {
		return preview.Result{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	endpoint := c.baseURL.JoinPath(path).String()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return coreerrors.Wrap(fmt.Errorf("encode %s request: %w", path, err), coreerrors.CategoryInternalFailure, "request_encode_failed", "", false)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("build %s request: %w", path, err), coreerrors.CategoryInternalFailure, "request_build_failed", "", false)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	// #nosec G107 -- base url comes from local configuration.
	response, err := c.http.Do(request)
	if err != nil {
		c.logger.Debug("backend request failed", slog.String("path", path), slog.String("error", err.Error()))
		return coreerrors.Wrap(fmt.Errorf("%s %s: %w", method, path, err), coreerrors.CategoryNetworkTransient, "backend_unreachable", "check that the backend is running", true)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	raw, err := readAllLimit(response.Body, maxResponseBytes)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("read %s response: %w", path, err), coreerrors.CategoryNetworkTransient, "backend_read_failed", "", true)
	}
	c.logger.Debug("backend request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", response.StatusCode),
		slog.Duration("elapsed", time.Since(started)),
	)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return classifyStatus(decodeStatusError(response.StatusCode, raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return coreerrors.Wrap(fmt.Errorf("decode %s response: %w", path, err), coreerrors.CategoryCorruptPayload, "response_decode_failed", "", false)
	}
	return nil
}

func readAllLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(reader, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("payload too large")
	}
	return data, nil
}
