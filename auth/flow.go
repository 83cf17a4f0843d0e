package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"go.opentelemetry.io/otel/attribute"
)

// Position of a flow in the auth state machine. Reported on [FlowError] to indicate where
// a failure happened.
type FlowStage string

const (
	StageIdle                FlowStage = "idle"
	StageDiscoveryInProgress FlowStage = "discovery_in_progress"
	StageAppResolved         FlowStage = "app_resolved"
	StageRedirectIssued      FlowStage = "redirect_issued"
	StageCallbackReceived    FlowStage = "callback_received"
	StageStateVerified       FlowStage = "state_verified"
	StageTokenExchanged      FlowStage = "token_exchanged"
	StageComplete            FlowStage = "complete"
	StageFailed              FlowStage = "failed"
)

const defaultFormTitle = "Entity Verification"

// Configuration for a [Flow].
type Options struct {
	// App attributes submitted when creating new registrations
	App AppAttributes

	// Optional host hooks for persisting app registrations between flows
	GetApp       GetAppFunc
	OnAppCreated OnAppCreatedFunc

	// Optional continuation called with the result of a successful callback phase, after
	// flow state has been cleared. An error here is reported as an unknown error.
	OnSuccess func(ctx context.Context, result *AuthResult) error

	// Optional failure hook, called once for every failed phase
	OnFailure func(ctx context.Context, ferr *FlowError)

	// Profile info types and post types hinted in the authorization redirect (optional)
	ProfileInfoTypes []string
	PostTypes        []string

	// Title of the entity input form. Defaults to "Entity Verification".
	FormTitle string

	// If non-zero, callbacks arriving later than this after the redirect are rejected as a
	// state mismatch. Otherwise state lives as long as the session does.
	StateTTL time.Duration

	Logger *slog.Logger
}

// Two-phase Tent auth flow controller. A single instance can be shared across all
// requests and sessions; all per-flow data is kept in the request's [SessionStore].
type Flow struct {
	Discoverer *Discoverer
	Registrar  *Registrar
	Client     ProtocolClient

	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewFlow(c ProtocolClient, opts Options) *Flow {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tentauth")
	if opts.FormTitle == "" {
		opts.FormTitle = defaultFormTitle
	}
	return &Flow{
		Discoverer: &Discoverer{
			Client: c,
			Logger: logger,
		},
		Registrar: &Registrar{
			Client:       c,
			Attributes:   opts.App,
			Logger:       logger,
			GetApp:       opts.GetApp,
			OnAppCreated: opts.OnAppCreated,
		},
		Client: c,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Phase one: for the entity form post, discovers the entity's server, finds or creates an
// app registration, persists flow state in the session, and returns the authorization
// URL the browser should be redirected to.
//
// For any other request, renders the entity form (via [RequestContext]) and returns an
// empty URL. Returns a [*FlowError] on failure, after clearing all flow state.
func (f *Flow) RequestPhase(ctx context.Context, rc RequestContext) (string, error) {
	if !rc.IsFormPost() {
		return "", rc.RenderEntityForm(f.opts.FormTitle)
	}

	ctx, span := tracer.Start(ctx, "RequestPhase")
	defer span.End()

	start := time.Now()
	st := NewStateStore(rc.Session())
	stage := StageIdle

	redirectURL, err := f.requestPhase(ctx, rc, st, &stage)
	if err != nil {
		span.RecordError(err)
		return "", f.fail(ctx, "request", start, st, stage, err)
	}
	f.observe("request", start, "ok")
	return redirectURL, nil
}

func (f *Flow) requestPhase(ctx context.Context, rc RequestContext, st *StateStore, stage *FlowStage) (string, error) {
	raw := strings.TrimSpace(rc.Param("entity"))
	if raw == "" {
		return "", fmt.Errorf("%w: no entity given", ErrDiscoveryFailure)
	}

	// restarting the flow discards anything left over from an earlier attempt
	if err := st.DeleteAll(ctx); err != nil {
		return "", err
	}

	entity := NormalizeEntity(raw)
	if err := st.Set(ctx, stateKeyEntity, entity); err != nil {
		return "", err
	}
	traceAttrs(ctx, attribute.String("entity", entity))

	*stage = StageDiscoveryInProgress
	meta, err := f.Discoverer.Discover(ctx, entity)
	if err != nil {
		return "", err
	}
	server := meta.Primary()
	if err := st.Set(ctx, stateKeyServerURLs, server.OAuthURLs()); err != nil {
		return "", err
	}
	if err := st.Set(ctx, stateKeyProfile, meta.Profile); err != nil {
		return "", err
	}

	app, err := f.Registrar.FindOrCreate(ctx, entity, meta, rc.CallbackURL())
	if err != nil {
		return "", err
	}
	// the raw app post stays out of the session to keep cookie-backed sessions small
	sessionApp := *app
	sessionApp.Raw = nil
	if err := st.Set(ctx, stateKeyApp, &sessionApp); err != nil {
		return "", err
	}
	*stage = StageAppResolved

	state, err := randomState()
	if err != nil {
		return "", err
	}
	if err := st.Set(ctx, stateKeyState, state); err != nil {
		return "", err
	}
	if err := st.Set(ctx, stateKeyCreatedAt, f.now()); err != nil {
		return "", err
	}

	redirectURL, err := f.authorizeURL(server.URLs["oauth_auth"], app.ID, state)
	if err != nil {
		return "", err
	}
	*stage = StageRedirectIssued
	f.logger.Info("redirecting for authorization", "entity", entity, "app", app.ID)
	return redirectURL, nil
}

func (f *Flow) authorizeURL(endpoint, clientID, state string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid oauth_auth endpoint: %w", ErrDiscoveryFailure, err)
	}
	params := AuthorizeParams{
		ClientID:         clientID,
		State:            state,
		Scope:            strings.Join(f.opts.App.Scopes, ","),
		ProfileInfoTypes: strings.Join(f.opts.ProfileInfoTypes, ","),
		PostTypes:        strings.Join(f.opts.PostTypes, ","),
	}
	vals, err := query.Values(params)
	if err != nil {
		return "", err
	}
	// keep any query params already on the endpoint
	q := u.Query()
	for k, v := range vals {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Phase two: handles the redirect back from the entity's server. Verifies the
// anti-forgery state, exchanges the authorization code for access credentials, clears
// flow state, and returns the normalized result (also passed to [Options.OnSuccess]).
//
// Flow state is cleared on every exit path. Returns a [*FlowError] on failure.
func (f *Flow) CallbackPhase(ctx context.Context, rc RequestContext) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "CallbackPhase")
	defer span.End()

	start := time.Now()
	st := NewStateStore(rc.Session())
	stage := StageCallbackReceived

	result, err := f.callbackPhase(ctx, rc, st, &stage)
	if err != nil {
		span.RecordError(err)
		return nil, f.fail(ctx, "callback", start, st, stage, err)
	}

	if err := st.DeleteAll(ctx); err != nil {
		span.RecordError(err)
		return nil, f.fail(ctx, "callback", start, st, stage, err)
	}
	stage = StageComplete

	if f.opts.OnSuccess != nil {
		if err := f.opts.OnSuccess(ctx, result); err != nil {
			return nil, f.fail(ctx, "callback", start, st, stage, err)
		}
	}
	f.observe("callback", start, "ok")
	return result, nil
}

func (f *Flow) callbackPhase(ctx context.Context, rc RequestContext, st *StateStore, stage *FlowStage) (*AuthResult, error) {
	if e := rc.Param("error"); e != "" {
		if desc := rc.Param("error_description"); desc != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrOAuth, e, desc)
		}
		return nil, fmt.Errorf("%w: %s", ErrOAuth, e)
	}

	fs, err := st.LoadFlowState(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.verifyState(fs, rc.Param("state")); err != nil {
		return nil, err
	}
	*stage = StageStateVerified
	traceAttrs(ctx, attribute.String("entity", fs.Entity))

	if fs.App == nil || fs.App.Credential == nil {
		return nil, fmt.Errorf("%w: no app registration in flow state", ErrAppAuthCreateFailure)
	}
	token, err := f.exchangeCode(ctx, fs, rc.Param("code"))
	if err != nil {
		return nil, err
	}
	*stage = StageTokenExchanged
	f.logger.Info("authorization complete", "entity", fs.Entity, "app", fs.App.ID, "tokenType", token.TokenType)

	return buildResult(fs, token), nil
}

func (f *Flow) verifyState(fs *FlowState, returned string) error {
	if fs.State == "" {
		return fmt.Errorf("%w: no state stored for this session", ErrStateMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(fs.State), []byte(returned)) != 1 {
		return fmt.Errorf("%w: callback state does not match", ErrStateMismatch)
	}
	if f.opts.StateTTL > 0 && !fs.CreatedAt.IsZero() && f.now().Sub(fs.CreatedAt) > f.opts.StateTTL {
		return fmt.Errorf("%w: state expired", ErrStateMismatch)
	}
	return nil
}

func (f *Flow) exchangeCode(ctx context.Context, fs *FlowState, code string) (*TokenResponse, error) {
	ctx, span := tracer.Start(ctx, "ExchangeCode")
	defer span.End()

	tokenURL := fs.ServerURLs["oauth_token"]
	if tokenURL == "" {
		return nil, fmt.Errorf("%w: no oauth_token endpoint in flow state", ErrAppAuthCreateFailure)
	}
	req, err := NewJSONRequest(http.MethodPost, tokenURL, "application/json", TokenRequest{
		Code:      code,
		TokenType: HawkTokenType,
	})
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.SignedRequest(ctx, req, fs.App.Credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppAuthCreateFailure, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %w", ErrAppAuthCreateFailure, responseError(resp))
	}
	var token TokenResponse
	if err := resp.DecodeJSON(&token); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppAuthCreateFailure, err)
	}
	if token.AccessToken == "" || token.HawkKey == "" {
		return nil, fmt.Errorf("%w: token response missing access_token or hawk_key", ErrAppAuthCreateFailure)
	}
	return &token, nil
}

func buildResult(fs *FlowState, token *TokenResponse) *AuthResult {
	res := AuthResult{
		Provider: ProviderName,
		UID:      fs.Entity,
		Credentials: AuthCredentials{
			Token:     token.AccessToken,
			Secret:    token.HawkKey,
			Algorithm: token.HawkAlgorithm,
			TokenType: token.TokenType,
		},
		Extra: AuthExtra{
			Profile:          fs.Profile,
			App:              fs.App,
			AppAuthorization: token,
			ServerURLs:       fs.ServerURLs,
		},
	}
	if fs.Profile != nil {
		res.Info = AuthInfo{
			Name:    fs.Profile.Name,
			Bio:     fs.Profile.Bio,
			Website: fs.Profile.Website,
			Avatar:  fs.Profile.AvatarDigest,
		}
	}
	return &res
}

// Clears flow state, classifies the error, and notifies the host.
func (f *Flow) fail(ctx context.Context, phase string, start time.Time, st *StateStore, stage FlowStage, err error) *FlowError {
	ferr := newFlowError(stage, err)
	if derr := st.DeleteAll(ctx); derr != nil {
		f.logger.Error("failed to clear flow state", "phase", phase, "err", derr)
		ferr.Cause = errors.Join(ferr.Cause, derr)
	}
	f.logger.Warn("tent auth phase failed", "phase", phase, "stage", stage, "code", ferr.Code, "err", ferr.Cause)
	f.observe(phase, start, string(ferr.Code))
	if f.opts.OnFailure != nil {
		f.opts.OnFailure(ctx, ferr)
	}
	return ferr
}

func (f *Flow) observe(phase string, start time.Time, code string) {
	flowPhases.WithLabelValues(phase, code).Inc()
	flowPhaseDuration.WithLabelValues(phase, code).Observe(time.Since(start).Seconds())
}

// 32 random bytes, hex encoded
func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
