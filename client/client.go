// Package client talks to the task, user, identity and bill resources and to
// the token endpoint that guards them.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dashboard/domain"
	"dashboard/session"
)

const (
	tracerName      = "dashboard/client"
	maxResponseSize = 8 << 20

	tasksPath = "/api/tasks/"
	usersPath = "/api/users/"
	mePath    = "/api/me/"
	billsPath = "/api/bills/"
)

// TokenVariant selects the shape of the token endpoint.
type TokenVariant string

const (
	// TokenJSON posts a JSON body to /api/token/ and reads "access".
	TokenJSON TokenVariant = "json"
	// TokenForm posts a form body to /api/token and reads "access_token".
	TokenForm TokenVariant = "form"
)

// ErrAuthentication is returned for any failed login. Bad credentials and an
// unreachable token service are deliberately not told apart.
var ErrAuthentication = errors.New("invalid credentials or service unavailable")

// StatusError reports a non-2xx answer from a resource.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

// Client performs authenticated JSON requests against the resource service.
// It neither retries nor caches.
type Client struct {
	BaseURL string
	Variant TokenVariant
	HTTP    *http.Client
	Logger  *log.Logger
}

// New creates a new Client.
func New(baseURL string, variant TokenVariant, logger *log.Logger) *Client {
	if variant == "" {
		variant = TokenJSON
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Variant: variant,
		HTTP:    &http.Client{},
		Logger:  logger,
	}
}

// TaskPatch is a partial task update. Only non-nil fields are sent.
type TaskPatch struct {
	Status        *domain.Status `json:"status,omitempty"`
	AssignedToIDs *[]int64       `json:"assigned_to_ids,omitempty"`
}

// StatusPatch builds a patch that changes only the status.
func StatusPatch(s domain.Status) TaskPatch {
	return TaskPatch{Status: &s}
}

// AssigneesPatch builds a patch that replaces the full assignee set.
func AssigneesPatch(ids []int64) TaskPatch {
	if ids == nil {
		ids = []int64{}
	}
	return TaskPatch{AssignedToIDs: &ids}
}

type tokenResponse struct {
	Access      string `json:"access"`
	AccessToken string `json:"access_token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var (
		path        string
		body        []byte
		contentType string
	)
	switch c.Variant {
	case TokenForm:
		path = "/api/token"
		body = []byte(url.Values{"username": {username}, "password": {password}}.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		path = "/api/token/"
		var err error
		body, err = sonic.Marshal(map[string]string{"username": username, "password": password})
		if err != nil {
			return "", err
		}
		contentType = "application/json"
	}

	var out tokenResponse
	if err := c.do(ctx, "login", http.MethodPost, path, nil, body, contentType, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	token := out.Access
	if token == "" {
		token = out.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("%w: token missing from response", ErrAuthentication)
	}
	return token, nil
}

// ListTasks fetches every task visible to the session. Tasks with a status
// outside the board's three columns are placed in the first column.
func (c *Client) ListTasks(ctx context.Context, s session.Session) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.do(ctx, "list_tasks", http.MethodGet, tasksPath, &s, nil, "", &tasks); err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].Normalize() {
			c.Logger.WithFields(log.Fields{"task_id": tasks[i].ID}).Warn("task with unknown status moved to not_started")
		}
	}
	return tasks, nil
}

// ListUsers fetches the assignable users.
func (c *Client) ListUsers(ctx context.Context, s session.Session) ([]domain.User, error) {
	var users []domain.User
	if err := c.do(ctx, "list_users", http.MethodGet, usersPath, &s, nil, "", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CurrentUser fetches the identity behind the session.
func (c *Client) CurrentUser(ctx context.Context, s session.Session) (domain.CurrentUser, error) {
	var me domain.CurrentUser
	if err := c.do(ctx, "current_user", http.MethodGet, mePath, &s, nil, "", &me); err != nil {
		return domain.CurrentUser{}, err
	}
	return me, nil
}

// ListBills fetches every bill record.
func (c *Client) ListBills(ctx context.Context, s session.Session) ([]domain.Bill, error) {
	var bills []domain.Bill
	if err := c.do(ctx, "list_bills", http.MethodGet, billsPath, &s, nil, "", &bills); err != nil {
		return nil, err
	}
	return bills, nil
}

// PatchTask applies a partial update and returns the task as stored by the
// resource service.
func (c *Client) PatchTask(ctx context.Context, s session.Session, id int64, patch TaskPatch) (domain.Task, error) {
	body, err := sonic.Marshal(patch)
	if err != nil {
		return domain.Task{}, err
	}
	var task domain.Task
	path := fmt.Sprintf("%s%d/", tasksPath, id)
	if err := c.do(ctx, "patch_task", http.MethodPatch, path, &s, body, "application/json", &task); err != nil {
		return domain.Task{}, err
	}
	if task.Normalize() {
		c.Logger.WithFields(log.Fields{"task_id": task.ID}).Warn("task with unknown status moved to not_started")
	}
	return task, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, s *session.Session, body []byte, contentType string, out any) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "resource."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)
	start := time.Now()
	status := 0
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		fields := log.Fields{
			"op":          op,
			"method":      method,
			"path":        path,
			"status":      status,
			"duration_ms": float64(time.Since(start)) / float64(time.Millisecond),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		c.Logger.WithFields(fields).Debug("resource.request")
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if s != nil {
		if err := s.Authorize(req.Header); err != nil {
			return err
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
