// Package clickup implements the task tracker collaborator against the
// ClickUp v2 REST API.
//
//	c, err := clickup.New(token, teamID)
//	tasks, err := c.OpenTasks(ctx, "4412345")
package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/tracker"
)

// DefaultBaseURL is the public ClickUp API root.
const DefaultBaseURL = "https://api.clickup.com/api/v2"

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxPages = 10
	maxErrorBody    = 1024
)

// ErrMemberNotFound is returned by [Client.FindMember] when no team member
// matches.
var ErrMemberNotFound = errors.New("clickup: member not found")

// APIError is a non-2xx response from ClickUp.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clickup: HTTP %d: %s", e.StatusCode, e.Body)
}

var (
	_ tracker.Source  = (*Client)(nil)
	_ tracker.Updater = (*Client)(nil)
)

// Client talks to one ClickUp workspace (team).
type Client struct {
	baseURL  string
	token    string
	teamID   string
	maxPages int
	client   *http.Client
	metrics  *observe.Metrics
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL points the client elsewhere, e.g. at a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default client, which has a 10 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithMaxPages bounds how many result pages OpenTasks follows. Default 10.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithMetrics records every request to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client. token is a personal API token.
func New(token, teamID string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("clickup: api token is required")
	}
	if teamID == "" {
		return nil, errors.New("clickup: team id is required")
	}
	c := &Client{
		baseURL:  DefaultBaseURL,
		token:    token,
		teamID:   teamID,
		maxPages: defaultMaxPages,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// id accepts ClickUp identifiers encoded either as JSON strings or numbers.
type id string

func (i *id) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = id(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*i = id(n.String())
	return nil
}

type apiUser struct {
	ID       id     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type apiTask struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TextContent string `json:"text_content"`
	URL         string `json:"url"`
	Status      struct {
		Status string `json:"status"`
	} `json:"status"`
	Assignees []apiUser `json:"assignees"`
}

func (t apiTask) task() tracker.Task {
	desc := t.Description
	if desc == "" {
		desc = t.TextContent
	}
	out := tracker.Task{
		ID:          t.ID,
		Title:       t.Name,
		Description: desc,
		URL:         t.URL,
		Status:      t.Status.Status,
	}
	for _, a := range t.Assignees {
		out.Assignees = append(out.Assignees, string(a.ID))
	}
	return out
}

// OpenTasks lists the team's tasks that are not closed, most recently
// updated first, optionally restricted to one assignee's member id.
func (c *Client) OpenTasks(ctx context.Context, assignee string) ([]tracker.Task, error) {
	var out []tracker.Task
	for page := range c.maxPages {
		q := url.Values{}
		q.Set("page", fmt.Sprint(page))
		q.Set("order_by", "updated")
		q.Set("reverse", "true")
		q.Set("subtasks", "true")
		q.Set("include_closed", "false")
		if assignee != "" {
			q.Add("assignees[]", assignee)
		}

		var resp struct {
			Tasks    []apiTask `json:"tasks"`
			LastPage *bool     `json:"last_page"`
		}
		if err := c.do(ctx, "open_tasks", http.MethodGet, "/team/"+url.PathEscape(c.teamID)+"/task?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}
		for _, t := range resp.Tasks {
			out = append(out, t.task())
		}
		if resp.LastPage == nil || *resp.LastPage || len(resp.Tasks) == 0 {
			break
		}
	}
	return out, nil
}

// Task fetches one task.
func (c *Client) Task(ctx context.Context, taskID string) (*tracker.Task, error) {
	var t apiTask
	if err := c.do(ctx, "get_task", http.MethodGet, "/task/"+url.PathEscape(taskID), nil, &t); err != nil {
		return nil, err
	}
	out := t.task()
	return &out, nil
}

// UpdateStatus moves a task to status (a status name of its list, e.g.
// "in progress").
func (c *Client) UpdateStatus(ctx context.Context, taskID, status string) (*tracker.Task, error) {
	body := map[string]string{"status": status}
	var t apiTask
	if err := c.do(ctx, "update_status", http.MethodPut, "/task/"+url.PathEscape(taskID), body, &t); err != nil {
		return nil, err
	}
	out := t.task()
	return &out, nil
}

// Member is a workspace member.
type Member struct {
	ID       string
	Username string
	Email    string
}

// FindMember looks up a member of the configured team by email or username,
// case-insensitively.
func (c *Client) FindMember(ctx context.Context, emailOrUsername string) (*Member, error) {
	var resp struct {
		Teams []struct {
			ID      id `json:"id"`
			Members []struct {
				User apiUser `json:"user"`
			} `json:"members"`
		} `json:"teams"`
	}
	if err := c.do(ctx, "find_member", http.MethodGet, "/team", nil, &resp); err != nil {
		return nil, err
	}
	for _, team := range resp.Teams {
		if string(team.ID) != c.teamID {
			continue
		}
		for _, m := range team.Members {
			u := m.User
			if strings.EqualFold(u.Email, emailOrUsername) || strings.EqualFold(u.Username, emailOrUsername) {
				return &Member{ID: string(u.ID), Username: u.Username, Email: u.Email}, nil
			}
		}
	}
	return nil, ErrMemberNotFound
}

// Ping checks the token by fetching the authorized user.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/user", nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	defer func() {
		if c.metrics == nil {
			return
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordTrackerRequest(ctx, op, status)
	}()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("clickup: encode %s: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("clickup: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickup: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clickup: decode %s response: %w", op, err)
	}
	return nil
}
