// Package plugweave is a thin HTTP client for the Plugweave REST API.
package plugweave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the Plugweave REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient builds a client for the given base URL. When httpClient is nil a
// default client with a short timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Candidate mirrors one ranked discovery result.
type Candidate struct {
	Identity    string  `json:"identity"`
	Relevance   float64 `json:"relevance"`
	SuccessRate float64 `json:"success_rate"`
	UsageCount  int64   `json:"usage_count"`
	Direct      bool    `json:"direct"`
}

// ChainNode mirrors one scheduled node of a built chain.
type ChainNode struct {
	Identity  string   `json:"identity"`
	DependsOn []string `json:"depends_on,omitempty"`
	Relevance float64  `json:"relevance"`
}

// Chain mirrors the server's build response.
type Chain struct {
	ID       string      `json:"id"`
	Goal     string      `json:"goal"`
	Mode     string      `json:"mode"`
	Nodes    []ChainNode `json:"nodes"`
	Warnings []Decision  `json:"warnings,omitempty"`
}

// Decision mirrors an admission decision attached to a chain.
type Decision struct {
	Identity        string  `json:"identity"`
	Status          string  `json:"status"`
	ConfidenceScore float64 `json:"confidence_score"`
	RiskLevel       string  `json:"risk_level"`
	Reason          string  `json:"reason,omitempty"`
}

// RunResult is the outcome of a chain run, including the partial context of
// a failed run.
type RunResult struct {
	ChainID string         `json:"chain_id"`
	Context map[string]any `json:"context"`
	Error   string         `json:"error,omitempty"`
}

// ChainStatus mirrors the server's progress report.
type ChainStatus struct {
	ChainID       string  `json:"chain_id"`
	Goal          string  `json:"goal"`
	Mode          string  `json:"mode"`
	TotalNodes    int     `json:"total_nodes"`
	ExecutedNodes int     `json:"executed_nodes"`
	Progress      float64 `json:"progress"`
	Running       bool    `json:"running"`
}

// Suggestion mirrors one advisory chain proposal.
type Suggestion struct {
	Category   string   `json:"category"`
	Identities []string `json:"identities"`
	Score      float64  `json:"score"`
}

// BuildChainRequest is the payload for BuildChain.
type BuildChainRequest struct {
	Goal         string         `json:"goal"`
	Available    []string       `json:"available,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Mode         string         `json:"mode,omitempty"`
	UserOverride bool           `json:"user_override,omitempty"`
}

// APIError represents a server-side error response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("plugweave api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("plugweave api error (%d): %s", e.StatusCode, e.Message)
}

// Query returns ranked plugin candidates for a goal.
func (c *Client) Query(ctx context.Context, goal string, limit int) ([]Candidate, error) {
	var out struct {
		Candidates []Candidate `json:"candidates"`
	}
	payload := map[string]any{"goal": goal, "limit": limit}
	if err := c.post(ctx, "/api/v1/query", payload, &out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

// BuildChain asks the server to assemble a chain for a goal.
func (c *Client) BuildChain(ctx context.Context, req BuildChainRequest) (Chain, error) {
	var chain Chain
	if err := c.post(ctx, "/api/v1/chains", req, &chain); err != nil {
		return Chain{}, err
	}
	return chain, nil
}

// RunChain executes a previously built chain. A failed run still carries the
// partial context in the returned result, so the error path decodes the body
// instead of discarding it.
func (c *Client) RunChain(ctx context.Context, chainID string, input map[string]any) (RunResult, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return RunResult{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/chains/"+url.PathEscape(chainID)+"/run", bytes.NewReader(body))
	if err != nil {
		return RunResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RunResult{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return RunResult{}, fmt.Errorf("read response: %w", err)
	}

	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil || result.ChainID == "" {
		apiErr := APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return RunResult{}, &apiErr
	}
	if result.Error != "" {
		return result, &APIError{StatusCode: resp.StatusCode, Message: result.Error}
	}
	return result, nil
}

// GetChainStatus reports a chain's progress.
func (c *Client) GetChainStatus(ctx context.Context, chainID string) (ChainStatus, error) {
	var status ChainStatus
	if err := c.get(ctx, "/api/v1/chains/"+url.PathEscape(chainID), &status); err != nil {
		return ChainStatus{}, err
	}
	return status, nil
}

// CleanupChain removes a chain from the server registry.
func (c *Client) CleanupChain(ctx context.Context, chainID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/chains/"+url.PathEscape(chainID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// SuggestChains returns advisory chain proposals for free-form input.
func (c *Client) SuggestChains(ctx context.Context, input string, available []string) ([]Suggestion, error) {
	var out struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	payload := map[string]any{"input": input, "available": available}
	if err := c.post(ctx, "/api/v1/suggestions", payload, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
