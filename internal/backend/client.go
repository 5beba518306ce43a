// Package backend talks to the workflow backend: workflow lookup, session and
// step lifecycle notifications, and master-data references.
package backend

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/statusstore"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultTokenTTL = 30 * time.Minute
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrInvalidFilter    = errors.New("invalid workflow filter response")
	ErrRequestFailed    = errors.New("backend request failed")
)

//go:embed schema.json
var filterSchema []byte

// TokenStore caches the backend bearer token.
type TokenStore interface {
	GetToken(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string, ttl time.Duration) error
}

type Config struct {
	BaseURL      string        `yaml:"base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type Client struct {
	config   Config
	http     *http.Client
	tokens   TokenStore
	schema   *gojsonschema.Schema
	validate *validator.Validate
	logger   *slog.Logger
}

// NewClient builds a client. tokens may be nil, in which case requests are
// sent without authentication.
func NewClient(config Config, tokens TokenStore, logger *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL must be provided")
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaultTokenTTL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(filterSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow filter schema: %w", err)
	}

	return &Client{
		config:   config,
		http:     &http.Client{Timeout: config.Timeout},
		tokens:   tokens,
		schema:   schema,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// GetWorkflowFilter returns the workflow that handles the queried file. The
// response is checked against the filter schema before decoding.
func (c *Client) GetWorkflowFilter(ctx context.Context, query models.WorkflowFilterQuery) (*models.WorkflowFilter, error) {
	params := url.Values{}
	params.Set("project", query.Project)
	params.Set("fileName", query.FileName)
	params.Set("fileExtension", query.FileExtension)
	params.Set("source", query.Source)
	if query.FilePath != "" {
		params.Set("filePath", query.FilePath)
	}

	data, err := c.do(ctx, http.MethodGet, "/api/workflow/filter?"+params.Encode(), nil)
	if err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, query.FilePath)
		}
		return nil, err
	}
	if isNull(data) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, query.FilePath)
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidFilter, strings.Join(problems, "; "))
	}

	var filter models.WorkflowFilter
	if err := json.Unmarshal(data, &filter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return &filter, nil
}

// ValidateFilter checks the fields a run needs before any step executes.
func (c *Client) ValidateFilter(filter *models.WorkflowFilter) error {
	if err := c.validate.Struct(filter); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return nil
}

func (c *Client) StartSession(ctx context.Context, req models.WorkflowSessionStartRequest) (*models.WorkflowSessionStartResponse, error) {
	var resp models.WorkflowSessionStartResponse
	if err := c.call(ctx, http.MethodPost, "/api/workflow/session/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FinishSession(ctx context.Context, req models.WorkflowSessionFinishRequest) error {
	return c.call(ctx, http.MethodPost, "/api/workflow/session/finish", req, nil)
}

func (c *Client) StartStep(ctx context.Context, req models.WorkflowStepStartRequest) (*models.WorkflowStepStartResponse, error) {
	var resp models.WorkflowStepStartResponse
	if err := c.call(ctx, http.MethodPost, "/api/workflow/step/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FinishStep(ctx context.Context, req models.WorkflowStepFinishRequest) error {
	return c.call(ctx, http.MethodPost, "/api/workflow/step/finish", req, nil)
}

func (c *Client) StopWorkflow(ctx context.Context, req models.WorkflowStopRequest) error {
	return c.call(ctx, http.MethodPost, "/api/workflow/stop", req, nil)
}

func (c *Client) HeaderReferences(ctx context.Context, tableName string) ([]models.HeaderReference, error) {
	var refs []models.HeaderReference
	path := fmt.Sprintf("/api/master-data/%s/header-reference", url.PathEscape(tableName))
	if err := c.call(ctx, http.MethodGet, path, nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (c *Client) DataReferences(ctx context.Context, tableName string) ([]models.DataReference, error) {
	var refs []models.DataReference
	path := fmt.Sprintf("/api/master-data/%s/data-reference", url.PathEscape(tableName))
	if err := c.call(ctx, http.MethodGet, path, nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || isNull(data) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

var errStatusNotFound = fmt.Errorf("%w: not found", ErrRequestFailed)

// do sends the request and returns the "data" member of the response.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, path, body, token)
}

func (c *Client) send(ctx context.Context, method, path string, body any, token string) (json.RawMessage, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", path, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errStatusNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %s %s: HTTP %d: %s", ErrRequestFailed, method, path, resp.StatusCode, truncate(string(respBody), 200))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return env.Data, nil
}

// token returns the cached bearer token, requesting a new one on a miss.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil || c.config.ClientID == "" {
		return "", nil
	}

	token, err := c.tokens.GetToken(ctx)
	if err == nil && token != "" {
		return token, nil
	}
	if err != nil && !errors.Is(err, statusstore.ErrNotFound) {
		c.logger.Warn("Failed to read cached backend token", "error", err)
	}

	data, err := c.send(ctx, http.MethodPost, "/api/auth/token", tokenRequest{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
	}, "")
	if err != nil {
		return "", fmt.Errorf("failed to obtain backend token: %w", err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("%w: token response has no access token", ErrRequestFailed)
	}

	ttl := c.config.TokenTTL
	if expires := time.Duration(tr.ExpiresIn) * time.Second; expires > 0 && expires < ttl {
		ttl = expires
	}
	if err := c.tokens.SetToken(ctx, tr.AccessToken, ttl); err != nil {
		c.logger.Warn("Failed to cache backend token", "error", err)
	}
	return tr.AccessToken, nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
