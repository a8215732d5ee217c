package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vietddude/adbatch/internal/core/domain"
)

// maxListPages bounds paging so a misbehaving cursor cannot loop forever.
const maxListPages = 1000

// Edges names the platform collections the engine writes to and reads from.
type Edges struct {
	Parent           string `yaml:"parent"`             // e.g. "adsets"
	Child            string `yaml:"child"`              // e.g. "ads"
	ChildParentField string `yaml:"child_parent_field"` // e.g. "adset_id"
}

// DefaultEdges matches the campaign → ad set → ad hierarchy.
var DefaultEdges = Edges{
	Parent:           "adsets",
	Child:            "ads",
	ChildParentField: "adset_id",
}

// HTTPProvider implements Transport against a Graph-style batch endpoint.
type HTTPProvider struct {
	name       string
	baseURL    string
	edges      Edges
	pageLimit  int
	httpClient *http.Client

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *ProviderMonitor
}

// NewHTTPProvider creates a new HTTP batch provider.
func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		edges:     DefaultEdges,
		pageLimit: 200,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewProviderMonitor(),
	}
}

// WithEdges overrides the collection names.
func (p *HTTPProvider) WithEdges(e Edges) *HTTPProvider {
	if e.Parent != "" {
		p.edges.Parent = e.Parent
	}
	if e.Child != "" {
		p.edges.Child = e.Child
	}
	if e.ChildParentField != "" {
		p.edges.ChildParentField = e.ChildParentField
	}
	return p
}

type batchItem struct {
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
	Body        string `json:"body,omitempty"`
	Name        string `json:"name,omitempty"`
}

// SubmitGroup sends ops as one batch request.
func (p *HTTPProvider) SubmitGroup(
	ctx context.Context,
	cred domain.Credential,
	ops []domain.Operation,
) ([]*domain.RawResult, error) {
	items := make([]batchItem, len(ops))
	for i, op := range ops {
		body, err := EncodeBody(op.Body)
		if err != nil {
			return nil, fmt.Errorf("encode op %d: %w", i, err)
		}
		items[i] = batchItem{
			Method:      op.Method,
			RelativeURL: op.Path,
			Body:        body,
			Name:        op.Name,
		}
	}

	batchJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	form := url.Values{}
	form.Set("access_token", cred.Token)
	form.Set("batch", string(batchJSON))
	form.Set("include_headers", "false")

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("batch call: %w", err)
	}
	latency := time.Since(start)

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		p.recordFailure()
		if apiErr := ParseErrorBody(http.StatusOK, string(body)); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("parse batch response: not an array")
	}

	elems := parsed.Array()
	results := make([]*domain.RawResult, len(ops))
	for i := range results {
		if i >= len(elems) || elems[i].Type == gjson.Null {
			continue
		}
		results[i] = &domain.RawResult{
			Code: int(elems[i].Get("code").Int()),
			Body: elems[i].Get("body").String(),
		}
	}

	p.Monitor.RecordRequest(latency)
	p.recordSuccess(latency)
	return results, nil
}

// ListParents returns every parent under the group.
func (p *HTTPProvider) ListParents(
	ctx context.Context,
	cred domain.Credential,
	groupID string,
) ([]domain.Node, error) {
	return p.list(ctx, cred, groupID+"/"+p.edges.Parent, "id,name", func(r gjson.Result) domain.Node {
		return domain.Node{ID: r.Get("id").String(), Name: r.Get("name").String()}
	})
}

// ListChildren returns every child under the group.
func (p *HTTPProvider) ListChildren(
	ctx context.Context,
	cred domain.Credential,
	groupID string,
) ([]domain.Node, error) {
	field := p.edges.ChildParentField
	return p.list(ctx, cred, groupID+"/"+p.edges.Child, "id,name,"+field, func(r gjson.Result) domain.Node {
		return domain.Node{
			ID:       r.Get("id").String(),
			Name:     r.Get("name").String(),
			ParentID: r.Get(field).String(),
		}
	})
}

// Delete removes a remote object.
func (p *HTTPProvider) Delete(ctx context.Context, cred domain.Credential, id string) error {
	q := url.Values{}
	q.Set("access_token", cred.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/"+id+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	body, err := p.do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if apiErr := ParseErrorBody(http.StatusOK, string(body)); apiErr != nil {
		p.recordFailure()
		return apiErr
	}

	p.Monitor.RecordRequest(time.Since(start))
	p.recordSuccess(time.Since(start))
	return nil
}

func (p *HTTPProvider) list(
	ctx context.Context,
	cred domain.Credential,
	path, fields string,
	toNode func(gjson.Result) domain.Node,
) ([]domain.Node, error) {
	q := url.Values{}
	q.Set("access_token", cred.Token)
	q.Set("fields", fields)
	q.Set("limit", fmt.Sprintf("%d", p.pageLimit))
	next := p.baseURL + "/" + path + "?" + q.Encode()

	var nodes []domain.Node
	for page := 0; next != "" && page < maxListPages; page++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		start := time.Now()
		body, err := p.do(req)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		p.Monitor.RecordRequest(time.Since(start))
		p.recordSuccess(time.Since(start))

		parsed := gjson.ParseBytes(body)
		for _, item := range parsed.Get("data").Array() {
			nodes = append(nodes, toNode(item))
		}
		next = parsed.Get("paging.next").String()
	}

	return nodes, nil
}

// do executes req and returns the body of a 2xx response. Non-2xx responses
// become *APIError; transport failures are returned as-is for classification.
func (p *HTTPProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.recordFailure()
		retryAfter := resp.Header.Get("Retry-After")
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
			p.Monitor.RecordThrottle(resp.StatusCode, retryAfter)
		}

		apiErr := ParseErrorBody(resp.StatusCode, string(body))
		if apiErr == nil {
			apiErr = &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		apiErr.RetryAfter = retryAfter
		return nil, apiErr
	}

	return body, nil
}

// EncodeBody form-encodes an operation body. Strings pass through; other
// values are JSON encoded, which is how the batch endpoint expects nested specs.
func EncodeBody(body map[string]any) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	values := url.Values{}
	for k, v := range body {
		switch tv := v.(type) {
		case string:
			values.Set(k, tv)
		default:
			raw, err := json.Marshal(tv)
			if err != nil {
				return "", fmt.Errorf("field %s: %w", k, err)
			}
			values.Set(k, string(raw))
		}
	}
	return values.Encode(), nil
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h := p.health
	stats := p.Monitor.GetStats()
	h.MonitorStats = &stats
	return h
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	p.health.Latency = p.totalLatency / time.Duration(p.successCount)
}

func (p *HTTPProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()
	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}

var _ Transport = (*HTTPProvider)(nil)
