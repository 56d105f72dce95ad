package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lherron/epicsync/internal/domain"
)

const (
	apiPrefix         = "/rest/api/2"
	defaultPageSize   = 50
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 4096
)

// JiraConfig configures a Jira client.
type JiraConfig struct {
	BaseURL string
	Email   string
	Token   string
	Project string

	// RequestsPerSecond paces outgoing requests. Zero or less disables pacing.
	RequestsPerSecond float64

	PageSize   int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Jira is a Client for the Jira REST API v2.
type Jira struct {
	base     *url.URL
	email    string
	token    string
	project  string
	pageSize int
	limiter  *rate.Limiter
	http     *http.Client
	log      *slog.Logger
}

var _ Client = (*Jira)(nil)

// NewJira creates a Jira client.
func NewJira(cfg JiraConfig) (*Jira, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid jira base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid jira base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	j := &Jira{
		base:     base,
		email:    cfg.Email,
		token:    cfg.Token,
		project:  cfg.Project,
		pageSize: cfg.PageSize,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		http:     cfg.HTTPClient,
		log:      cfg.Logger,
	}
	if cfg.RequestsPerSecond > 0 {
		j.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if j.pageSize <= 0 {
		j.pageSize = defaultPageSize
	}
	if j.http == nil {
		j.http = &http.Client{Timeout: defaultTimeout}
	}
	if j.log == nil {
		j.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return j, nil
}

type searchResponse struct {
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Total      int      `json:"total"`
	Issues     []Record `json:"issues"`
}

type createResponse struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// FetchEntity returns one issue, or ErrNotFound.
func (j *Jira) FetchEntity(ctx context.Context, key string) (Record, error) {
	status, body, err := j.do(ctx, http.MethodGet, "/issue/"+key, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("failed to fetch %s: status %d: %s", key, status, truncate(body))
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return rec, nil
}

// FetchChildren returns every issue whose parent or epic link is parentKey.
func (j *Jira) FetchChildren(ctx context.Context, parentKey string) ([]Record, error) {
	return j.search(ctx, ChildrenJQL(parentKey))
}

// FetchByComponentAndType returns issues of type t in a component.
func (j *Jira) FetchByComponentAndType(ctx context.Context, component string, t domain.IssueType) ([]Record, error) {
	return j.search(ctx, ComponentTypeJQL(j.project, component, t))
}

func (j *Jira) search(ctx context.Context, jql string) ([]Record, error) {
	var all []Record
	startAt := 0
	for {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(j.pageSize))
		q.Set("fields", "*all")

		status, body, err := j.do(ctx, http.MethodGet, "/search", q, nil)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		if status/100 != 2 {
			return nil, fmt.Errorf("search failed: status %d: %s", status, truncate(body))
		}

		var page searchResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode search response: %w", err)
		}
		all = append(all, page.Issues...)

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			return all, nil
		}
	}
}

// UpdateEntity writes fields to an existing issue.
func (j *Jira) UpdateEntity(ctx context.Context, key string, fields map[string]any) error {
	payload, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return &domain.RemoteWriteError{Key: key, Err: err}
	}

	status, body, err := j.do(ctx, http.MethodPut, "/issue/"+key, nil, payload)
	if err != nil {
		return &domain.RemoteWriteError{Key: key, Err: err}
	}
	if status/100 != 2 {
		return &domain.RemoteWriteError{Key: key, StatusCode: status, Body: truncate(body)}
	}
	return nil
}

// CreateEntity creates an issue and returns its key.
func (j *Jira) CreateEntity(ctx context.Context, fields map[string]any) (string, error) {
	payload, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return "", &domain.RemoteWriteError{Err: err}
	}

	status, body, err := j.do(ctx, http.MethodPost, "/issue", nil, payload)
	if err != nil {
		return "", &domain.RemoteWriteError{Err: err}
	}
	if status/100 != 2 {
		return "", &domain.RemoteWriteError{StatusCode: status, Body: truncate(body)}
	}

	var created createResponse
	if err := json.Unmarshal(body, &created); err != nil || created.Key == "" {
		return "", &domain.RemoteWriteError{StatusCode: status, Body: truncate(body), Err: fmt.Errorf("response carries no issue key")}
	}
	return created.Key, nil
}

// do sends one request and returns the status and full response body.
func (j *Jira) do(ctx context.Context, method, path string, query url.Values, payload []byte) (int, []byte, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	u := *j.base
	u.Path = j.base.Path + apiPrefix + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if j.email != "" || j.token != "" {
		req.SetBasicAuth(j.email, j.token)
	}

	start := time.Now()
	resp, err := j.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	j.log.Debug("jira request", "method", method, "path", u.Path, "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp.StatusCode, body, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyBytes {
		return s[:maxErrorBodyBytes] + "..."
	}
	return s
}
