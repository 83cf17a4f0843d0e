package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tent/tent-go/auth"
	"github.com/tent/tent-go/auth/appstore"
	"github.com/tent/tent-go/auth/sessionstore"
	"github.com/tent/tent-go/client"

	"github.com/flosch/pongo2/v6"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

const cookieName = "tent-auth-demo"

type Config struct {
	PublicURL      string
	SessionSecret  string
	SessionBackend string
	RedisURL       string
	DatabaseURL    string
	App            auth.AppAttributes
	StateTTL       time.Duration

	// Client for requests to Tent servers
	HTTPClient *http.Client

	// Defaults to the global prometheus registry
	Registerer prometheus.Registerer
}

type Server struct {
	echo      *echo.Echo
	httpd     *http.Server
	flow      *auth.Flow
	cookies   *sessions.CookieStore
	apps      appstore.AppStore
	publicURL string
	logger    *slog.Logger

	// returns the store for auth flow state, given the browser's cookie session
	flowSession func(gsess *sessions.Session) auth.SessionStore
}

func NewServer(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")

	db, err := appstore.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("opening app database: %w", err)
	}
	dbStore, err := appstore.New(db)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		rdb = redis.NewClient(opt)
	}
	apps := appstore.NewCachedStore(dbStore, rdb, time.Hour, 10_000)

	// cookie values include app credentials, so they are encrypted as well as signed
	hashKey := sha256.Sum256([]byte("hash:" + cfg.SessionSecret))
	blockKey := sha256.Sum256([]byte("block:" + cfg.SessionSecret))
	cookies := sessions.NewCookieStore(hashKey[:], blockKey[:])
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   strings.HasPrefix(publicURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	}

	var flowSession func(gsess *sessions.Session) auth.SessionStore
	switch cfg.SessionBackend {
	case "", "cookie":
		flowSession = func(gsess *sessions.Session) auth.SessionStore {
			return sessionstore.NewCookieSession(gsess)
		}
	case "memory":
		mem := sessionstore.NewMemStore(100_000, time.Hour)
		flowSession = func(gsess *sessions.Session) auth.SessionStore {
			return mem.Session(sessionID(gsess))
		}
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis session backend requires a redis URL")
		}
		rs, err := sessionstore.NewRedisStore(cfg.RedisURL, time.Hour)
		if err != nil {
			return nil, err
		}
		flowSession = func(gsess *sessions.Session) auth.SessionStore {
			return rs.Session(sessionID(gsess))
		}
	default:
		return nil, fmt.Errorf("unknown session backend: %s", cfg.SessionBackend)
	}

	c := client.NewClient(cfg.HTTPClient)
	c.Logger = logger.With("component", "tent-client")

	srv := &Server{
		cookies:     cookies,
		apps:        apps,
		publicURL:   publicURL,
		logger:      logger,
		flowSession: flowSession,
	}
	srv.flow = auth.NewFlow(c, auth.Options{
		App:          cfg.App,
		GetApp:       apps.GetApp,
		OnAppCreated: apps.SaveApp,
		OnSuccess:    srv.onSuccess,
		OnFailure:    srv.onFailure,
		StateTTL:     cfg.StateTTL,
		Logger:       logger,
	})

	renderer, err := newRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Renderer = renderer
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("tent-auth-demo"))
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "tentauth_demo",
		Registerer: registerer,
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	e.GET("/", srv.WebHome)
	e.GET("/auth/tent", srv.WebTentAuth)
	e.POST("/auth/tent", srv.WebTentAuth)
	e.GET("/auth/tent/callback", srv.WebTentCallback)
	e.GET("/auth/failure", srv.WebAuthFailure)
	e.GET("/logout", srv.WebLogout)
	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())

	srv.echo = e
	return srv, nil
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	s.echo.ServeHTTP(rw, req)
}

func (s *Server) Start(bind string) error {
	s.httpd = &http.Server{
		Handler:      s,
		Addr:         bind,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
	s.logger.Info("starting server", "bind", bind, "publicURL", s.publicURL)
	if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if s.httpd == nil {
		return nil
	}
	return s.httpd.Shutdown(ctx)
}

// Server-side session backends are keyed by a random ID kept in the cookie.
func sessionID(gsess *sessions.Session) string {
	if sid, ok := gsess.Values["sid"].(string); ok && sid != "" {
		return sid
	}
	buf := make([]byte, 16)
	rand.Read(buf)
	sid := hex.EncodeToString(buf)
	gsess.Values["sid"] = sid
	return sid
}

// Adapts an echo request to [auth.RequestContext].
type echoRequest struct {
	c       echo.Context
	srv     *Server
	gsess   *sessions.Session
	session auth.SessionStore
}

func (s *Server) requestContext(c echo.Context) *echoRequest {
	// a cookie which fails to decode (eg, after a secret change) is replaced with a fresh session
	gsess, err := s.cookies.Get(c.Request(), cookieName)
	if err != nil {
		s.logger.Debug("discarding unreadable session cookie", "err", err)
	}
	return &echoRequest{
		c:       c,
		srv:     s,
		gsess:   gsess,
		session: s.flowSession(gsess),
	}
}

func (r *echoRequest) IsFormPost() bool {
	return r.c.Request().Method == http.MethodPost
}

func (r *echoRequest) Param(name string) string {
	return r.c.FormValue(name)
}

func (r *echoRequest) CallbackURL() string {
	return r.srv.publicURL + "/auth/tent/callback"
}

func (r *echoRequest) Session() auth.SessionStore {
	return r.session
}

func (r *echoRequest) RenderEntityForm(title string) error {
	// headers must be written before the body
	if err := r.save(); err != nil {
		return err
	}
	return r.c.Render(http.StatusOK, "entity_form.html", pongo2.Context{"title": title})
}

func (r *echoRequest) save() error {
	return r.gsess.Save(r.c.Request(), r.c.Response())
}

func (s *Server) onSuccess(ctx context.Context, res *auth.AuthResult) error {
	s.logger.Info("tent login", "entity", res.UID, "app", res.Extra.App.ID)
	return nil
}

func (s *Server) onFailure(ctx context.Context, ferr *auth.FlowError) {
	s.logger.Warn("tent login failed", "code", ferr.Code, "stage", ferr.Stage, "err", ferr.Cause)
}

func (s *Server) authFailure(c echo.Context, err error) error {
	code := auth.CodeUnknownError
	var ferr *auth.FlowError
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	q := url.Values{}
	q.Set("code", string(code))
	q.Set("strategy", auth.ProviderName)
	return c.Redirect(http.StatusFound, "/auth/failure?"+q.Encode())
}

func (s *Server) WebHome(c echo.Context) error {
	gsess, _ := s.cookies.Get(c.Request(), cookieName)
	entity, _ := gsess.Values["entity"].(string)
	name, _ := gsess.Values["name"].(string)
	return c.Render(http.StatusOK, "home.html", pongo2.Context{
		"entity": entity,
		"name":   name,
	})
}

func (s *Server) WebTentAuth(c echo.Context) error {
	rc := s.requestContext(c)
	redirectURL, err := s.flow.RequestPhase(c.Request().Context(), rc)
	if c.Response().Committed {
		// entity form was rendered
		return err
	}
	if saveErr := rc.save(); saveErr != nil {
		return saveErr
	}
	if err != nil {
		return s.authFailure(c, err)
	}
	return c.Redirect(http.StatusFound, redirectURL)
}

func (s *Server) WebTentCallback(c echo.Context) error {
	rc := s.requestContext(c)
	res, err := s.flow.CallbackPhase(c.Request().Context(), rc)
	if err != nil {
		if saveErr := rc.save(); saveErr != nil {
			return saveErr
		}
		return s.authFailure(c, err)
	}

	rc.gsess.Values["entity"] = res.UID
	rc.gsess.Values["name"] = res.Info.Name
	if err := rc.save(); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, "/")
}

func (s *Server) WebAuthFailure(c echo.Context) error {
	code := auth.FailureCode(c.QueryParam("code"))
	return c.Render(http.StatusUnauthorized, "failure.html", pongo2.Context{
		"code":        string(code),
		"description": code.Description(),
	})
}

func (s *Server) WebLogout(c echo.Context) error {
	gsess, _ := s.cookies.Get(c.Request(), cookieName)
	delete(gsess.Values, "entity")
	delete(gsess.Values, "name")
	if err := gsess.Save(c.Request(), c.Response()); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, "/")
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "tent-auth-demo", Version: version})
}
