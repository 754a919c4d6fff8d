package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"dashboard/bills"
	"dashboard/board"
	"dashboard/client"
	"dashboard/domain"
)

const (
	defaultCookieName = "dashboard_session"
	maxBodySize       = 1 << 16
	chartPlaceholder  = "Loading chart data..."
)

// Options tunes the shell.
type Options struct {
	CookieName     string
	CookieSecure   bool
	SessionTTL     time.Duration
	RequestTimeout time.Duration
}

// Shell is the dashboard's HTTP surface: login gate, board and bills chart.
type Shell struct {
	res     Resources
	store   SessionStore
	decoder TokenDecoder
	bills   *bills.Service
	log     *log.Logger
	opts    Options
	boards  *boardCache
}

// NewShell creates a Shell.
func NewShell(res Resources, store SessionStore, decoder TokenDecoder, billsSvc *bills.Service, logger *log.Logger, opts Options) *Shell {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if opts.CookieName == "" {
		opts.CookieName = defaultCookieName
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 8 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if billsSvc == nil {
		billsSvc = bills.NewService(res, nil, logger)
	}
	return &Shell{
		res:     res,
		store:   store,
		decoder: decoder,
		bills:   billsSvc,
		log:     logger,
		opts:    opts,
		boards:  newBoardCache(opts.SessionTTL),
	}
}

// Register wires up all routes on the provided Echo instance. Prometheus
// collectors are registered on reg.
func (s *Shell) Register(e *echo.Echo, reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "dashboard",
		Registerer: reg,
	}))
	e.Use(observe(s.log))

	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
	e.GET("/healthz", s.healthz)
	e.POST("/api/login", s.login)

	g := e.Group("/api", s.requireSession)
	g.POST("/logout", s.logout)
	g.GET("/board", s.getBoard)
	g.POST("/board/tasks/:id/advance", s.advance)
	g.POST("/board/tasks/:id/assignees/:userId", s.toggleAssignment)
	g.GET("/bills/chart", s.billsChart)
}

func (s *Shell) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		metricsFrom(c).SetErrorStage("session_store")
		return c.String(http.StatusServiceUnavailable, "session store unavailable")
	}
	return c.NoContent(http.StatusOK)
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type loginResponse struct {
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Shell) login(c echo.Context) error {
	m := metricsFrom(c)
	var req loginRequest
	if err := c.Bind(&req); err != nil || req.Username == "" || req.Password == "" {
		m.SetErrorStage("invalid_body")
		return c.String(http.StatusBadRequest, "username and password are required")
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	start := time.Now()
	token, err := s.res.Login(ctx, req.Username, req.Password)
	m.ObserveResource(time.Since(start))
	if err != nil {
		m.SetErrorStage("login")
		s.log.WithFields(log.Fields{"username": req.Username, "error": err}).Warn("login failed")
		return c.String(http.StatusUnauthorized, client.ErrAuthentication.Error())
	}
	sess, err := s.decoder.New(token)
	if err != nil {
		m.SetErrorStage("token")
		s.log.WithFields(log.Fields{"username": req.Username, "error": err}).Warn("token rejected")
		return c.String(http.StatusUnauthorized, client.ErrAuthentication.Error())
	}
	sess, err = s.store.Create(ctx, sess)
	if err != nil {
		m.SetErrorStage("session_store")
		s.log.WithFields(log.Fields{"error": err}).Error("session create failed")
		return c.String(http.StatusServiceUnavailable, "session store unavailable")
	}
	s.setCookie(c, sess)

	resp := loginResponse{Subject: sess.Subject}
	if !sess.ExpiresAt.IsZero() {
		resp.ExpiresAt = &sess.ExpiresAt
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Shell) logout(c echo.Context) error {
	sess := sessionFrom(c)
	key, _ := c.Get(boardKeyContextKey).(string)
	s.boards.drop(key)
	if sess.ID != "" {
		if err := s.store.Delete(c.Request().Context(), sess.ID); err != nil {
			metricsFrom(c).SetErrorStage("session_store")
			s.log.WithFields(log.Fields{"error": err}).Error("session delete failed")
			return c.String(http.StatusServiceUnavailable, "session store unavailable")
		}
	}
	s.clearCookie(c)
	return c.NoContent(http.StatusNoContent)
}

type boardResponse struct {
	board.View
	LoadErrors map[string]string `json:"load_errors,omitempty"`
}

func (s *Shell) getBoard(c echo.Context) error {
	m := metricsFrom(c)
	b := s.boardFor(c)

	reload, _ := strconv.ParseBool(c.QueryParam("reload"))
	resp := boardResponse{}
	if reload || !b.Loaded() {
		ctx, cancel := s.requestContext(c)
		defer cancel()
		start := time.Now()
		res := b.Load(ctx)
		m.ObserveResource(time.Since(start))
		resp.LoadErrors = loadErrors(res)
		if len(resp.LoadErrors) > 0 {
			m.SetErrorStage("load")
		}
	}
	resp.View = b.View()
	m.Set("tasks_returned", len(b.Tasks()))
	m.Set("admin", resp.CurrentUser.IsAdmin)
	return c.JSON(http.StatusOK, resp)
}

func loadErrors(res board.LoadResult) map[string]string {
	out := map[string]string{}
	if res.TasksErr != nil {
		out["tasks"] = res.TasksErr.Error()
	}
	if res.UsersErr != nil {
		out["users"] = res.UsersErr.Error()
	}
	if res.MeErr != nil {
		out["me"] = res.MeErr.Error()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type advanceRequest struct {
	Direction string `json:"direction"`
}

type advanceResponse struct {
	Task    domain.Task   `json:"task"`
	Outcome board.Outcome `json:"outcome,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func (s *Shell) advance(c echo.Context) error {
	m := metricsFrom(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		m.SetErrorStage("invalid_id")
		return c.String(http.StatusBadRequest, "invalid task id")
	}

	var req advanceRequest
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		m.SetErrorStage("invalid_body")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			m.SetErrorStage("invalid_body")
			return c.String(http.StatusBadRequest, "invalid body")
		}
	}
	if req.Direction == "" {
		req.Direction = c.QueryParam("direction")
	}
	dir, err := domain.ParseDirection(req.Direction)
	if err != nil {
		m.SetErrorStage("invalid_direction")
		return c.String(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	b := s.boardFor(c)
	s.ensureLoaded(ctx, c, b)

	start := time.Now()
	res, err := b.Advance(ctx, id, dir)
	m.ObserveResource(time.Since(start))
	m.Set("outcome", string(res.Outcome))
	switch {
	case errors.Is(err, board.ErrTaskNotFound):
		m.SetErrorStage("not_found")
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, board.ErrTransitionNotOffered):
		m.SetErrorStage("not_offered")
		return c.JSON(http.StatusConflict, advanceResponse{Task: res.Task, Error: err.Error()})
	case err != nil:
		m.SetErrorStage("write")
		return c.JSON(writeFailureStatus(err), advanceResponse{Task: res.Task, Outcome: res.Outcome, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, advanceResponse{Task: res.Task, Outcome: res.Outcome})
}

func (s *Shell) toggleAssignment(c echo.Context) error {
	m := metricsFrom(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		m.SetErrorStage("invalid_id")
		return c.String(http.StatusBadRequest, "invalid task id")
	}
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		m.SetErrorStage("invalid_user_id")
		return c.String(http.StatusBadRequest, "invalid user id")
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	b := s.boardFor(c)
	s.ensureLoaded(ctx, c, b)

	// Same rule the rendered board uses to show the control.
	if !b.AssignmentOffered(id, userID) {
		m.SetErrorStage("not_offered")
		return c.String(http.StatusForbidden, "assignment not available")
	}

	start := time.Now()
	task, err := b.ToggleAssignment(ctx, id, userID)
	m.ObserveResource(time.Since(start))
	switch {
	case errors.Is(err, board.ErrTaskNotFound):
		m.SetErrorStage("not_found")
		return c.String(http.StatusNotFound, err.Error())
	case err != nil:
		m.SetErrorStage("write")
		return c.JSON(writeFailureStatus(err), advanceResponse{Task: task, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, advanceResponse{Task: task})
}

type chartResponse struct {
	bills.Report
	Periods     []bills.Period `json:"periods"`
	Placeholder string         `json:"placeholder,omitempty"`
}

func (s *Shell) billsChart(c echo.Context) error {
	m := metricsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	start := time.Now()
	report, err := s.bills.Report(ctx, sessionFrom(c))
	m.ObserveResource(time.Since(start))
	if err != nil {
		m.SetErrorStage("load")
	}
	resp := chartResponse{Report: report, Periods: s.bills.Periods()}
	if !report.Ready {
		resp.Placeholder = chartPlaceholder
	}
	m.Set("chart_ready", report.Ready)
	return c.JSON(http.StatusOK, resp)
}

func (s *Shell) ensureLoaded(ctx context.Context, c echo.Context, b *board.Board) {
	if b.Loaded() {
		return
	}
	start := time.Now()
	if res := b.Load(ctx); res.Err() != nil {
		metricsFrom(c).SetErrorStage("load")
	}
	metricsFrom(c).ObserveResource(time.Since(start))
}

func (s *Shell) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.opts.RequestTimeout)
}

// writeFailureStatus maps a failed resource write to the status returned to
// the browser.
func writeFailureStatus(err error) int {
	var se *client.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict:
			return se.Code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
