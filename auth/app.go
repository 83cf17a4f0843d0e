package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tent/tent-go/linkheader"

	"go.opentelemetry.io/otel/attribute"
)

// Finds an existing app registration usable against an entity's server, or creates a new
// one.
type Registrar struct {
	Client     ProtocolClient
	Attributes AppAttributes
	Logger     *slog.Logger

	// Optional host hooks; see [GetAppFunc] and [OnAppCreatedFunc]
	GetApp       GetAppFunc
	OnAppCreated OnAppCreatedFunc
}

// Returns an app registration (with credentials) for the entity. A host-supplied
// registration is re-verified against the server first; if the server rejects it with a
// client error, a new registration is created.
//
// `redirectURI` is the callback URL for this request; [AppAttributes.RedirectURI] takes
// priority if set.
func (r *Registrar) FindOrCreate(ctx context.Context, entity string, meta *ServerMetadata, redirectURI string) (*AppRegistration, error) {
	ctx, span := tracer.Start(ctx, "FindOrCreateApp")
	defer span.End()
	span.SetAttributes(attribute.String("entity", entity))

	server := meta.Primary()
	if server == nil {
		return nil, fmt.Errorf("%w: no server for %s", ErrDiscoveryFailure, entity)
	}

	app, err := r.findApp(ctx, entity, server)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if app != nil {
		appResolutions.WithLabelValues("existing").Inc()
		return app, nil
	}

	app, err = r.createApp(ctx, entity, server, redirectURI)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	appResolutions.WithLabelValues("created").Inc()
	return app, nil
}

// Checks the shape of a host-supplied registration.
func ValidateApp(app *AppRegistration) error {
	if app.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidApp)
	}
	if app.Credential == nil || app.Credential.ID == "" || app.Credential.Key == "" {
		return fmt.Errorf("%w: missing credentials", ErrInvalidApp)
	}
	return nil
}

// Returns nil (and no error) if there is no usable existing registration.
func (r *Registrar) findApp(ctx context.Context, entity string, server *ServerInfo) (*AppRegistration, error) {
	if r.GetApp == nil {
		return nil, nil
	}
	app, err := r.GetApp(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up stored app for %s: %w", ErrAppLookupFailure, entity, err)
	}
	if app == nil {
		return nil, nil
	}
	if err := ValidateApp(app); err != nil {
		return nil, err
	}

	postURL, ok := server.PostURL(entity, app.ID)
	if !ok {
		return nil, fmt.Errorf("%w: server has no post endpoint", ErrAppLookupFailure)
	}
	resp, err := r.Client.SignedRequest(ctx, &ProtocolRequest{Method: http.MethodGet, URL: postURL}, app.Credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppLookupFailure, err)
	}
	switch {
	case resp.IsSuccess():
		r.logger().Debug("verified stored app registration", "entity", entity, "app", app.ID)
		return app, nil
	case resp.IsClientError():
		r.logger().Info("stored app registration rejected, creating new one", "entity", entity, "app", app.ID, "statusCode", resp.StatusCode)
		appResolutions.WithLabelValues("stale").Inc()
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %w", ErrAppLookupFailure, responseError(resp))
	}
}

func (r *Registrar) createApp(ctx context.Context, entity string, server *ServerInfo, redirectURI string) (*AppRegistration, error) {
	newPostURL := server.URLs["new_post"]
	if newPostURL == "" {
		return nil, fmt.Errorf("%w: server has no new_post endpoint", ErrAppCreateFailure)
	}
	if r.Attributes.RedirectURI != "" {
		redirectURI = r.Attributes.RedirectURI
	}

	req, err := NewJSONRequest(http.MethodPost, newPostURL, PostContentType(AppPostType), newAppPost(&r.Attributes, redirectURI))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppCreateFailure, err)
	}
	if r.Attributes.Icon != nil {
		att, err := r.Attributes.Icon.Resolve()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAppCreateFailure, err)
		}
		req.Attachments = []Attachment{*att}
	}

	resp, err := r.Client.SignedRequest(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppCreateFailure, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %w", ErrAppCreateFailure, responseError(resp))
	}
	p, raw, err := DecodePost(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppCreateFailure, err)
	}
	app, err := appFromPost(p, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppCreateFailure, err)
	}

	link, ok := linkheader.Parse(resp.Header.Values("Link")...).Find(CredentialsRel)
	if !ok {
		return nil, fmt.Errorf("%w: no credentials link in app create response", ErrAppCreateFailure)
	}
	credURL, err := link.Resolve(newPostURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid credentials link: %w", ErrAppCreateFailure, err)
	}

	credResp, err := r.Client.FetchLinkedResource(ctx, credURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching credentials: %w", ErrAppCreateFailure, err)
	}
	if !credResp.IsSuccess() {
		return nil, fmt.Errorf("%w: fetching credentials: %w", ErrAppCreateFailure, responseError(credResp))
	}
	credPost, _, err := DecodePost(credResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppCreateFailure, err)
	}
	cred, err := credentialFromPost(credPost)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppCreateFailure, err)
	}
	app.Credential = cred

	r.logger().Info("created app registration", "entity", entity, "app", app.ID, "credentials", cred)

	if r.OnAppCreated != nil {
		if err := r.OnAppCreated(ctx, app, entity); err != nil {
			return nil, fmt.Errorf("%w: persisting created app for %s: %w", ErrAppCreateFailure, entity, err)
		}
	}
	return app, nil
}

func (r *Registrar) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
