package services_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/pmb2/Social-Genius-sub006/cache"
	"github.com/pmb2/Social-Genius-sub006/domain"
	apierrors "github.com/pmb2/Social-Genius-sub006/errors"
	"github.com/pmb2/Social-Genius-sub006/internal/federation"
	"github.com/pmb2/Social-Genius-sub006/internal/statetoken"
	"github.com/pmb2/Social-Genius-sub006/internal/userstore"
	"github.com/pmb2/Social-Genius-sub006/services"
)

type fakeTaskCreator struct {
	calls []string
	err   error
}

func (f *fakeTaskCreator) CreateTask(_ context.Context, businessID, taskType, sealed string) (string, error) {
	f.calls = append(f.calls, businessID+"/"+taskType)
	if f.err != nil {
		return "", f.err
	}
	return "task-1", nil
}

type fakeCredentialSource struct{ sealed string }

func (f *fakeCredentialSource) SealedCredentials(context.Context, string) (string, error) {
	return f.sealed, nil
}

// fakeProviderServer stands in for the identity provider's token and userinfo
// endpoints. The token endpoint records the exact code_verifier it was sent.
type fakeProviderServer struct {
	token    *httptest.Server
	userinfo *httptest.Server

	seenVerifier string
	seenCode     string
	profile      map[string]any
}

func newFakeProviderServer(t *testing.T) *fakeProviderServer {
	t.Helper()
	f := &fakeProviderServer{
		profile: map[string]any{
			"sub":         "google-user-9",
			"email":       "ada@example.com",
			"given_name":  "Ada",
			"family_name": "Lovelace",
			"picture":     "https://example.com/ada.png",
		},
	}
	f.token = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.seenVerifier = r.FormValue("code_verifier")
		f.seenCode = r.FormValue("code")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(f.token.Close)

	f.userinfo = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.profile)
	}))
	t.Cleanup(f.userinfo.Close)

	prev := federation.GoogleUserInfoEndpoint
	federation.GoogleUserInfoEndpoint = f.userinfo.URL
	t.Cleanup(func() { federation.GoogleUserInfoEndpoint = prev })
	return f
}

type authFixture struct {
	svc      *services.AuthService
	sessions *cache.MemorySessionStore
	users    *userstore.InMemoryUserRepository
	tasks    *fakeTaskCreator
	provider *fakeProviderServer
	state    *statetoken.Codec
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	srv := newFakeProviderServer(t)

	provider, err := federation.NewGoogleProvider(federation.GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example.com/auth/google/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:  srv.token.URL + "/auth",
			TokenURL: srv.token.URL + "/token",
		},
	})
	require.NoError(t, err)

	sessions := cache.NewMemorySessionStore(30 * time.Minute)
	t.Cleanup(sessions.Stop)
	users := userstore.NewInMemoryUserRepository()
	tasks := &fakeTaskCreator{}
	state := statetoken.NewCodec([]byte("test-state-secret"), 15*time.Minute)

	svc := services.NewAuthService(provider, sessions, users, state, tasks, &fakeCredentialSource{sealed: "sealed-creds"})
	return &authFixture{svc: svc, sessions: sessions, users: users, tasks: tasks, provider: srv, state: state}
}

func TestBeginAuthorization(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	rawURL, err := fx.svc.BeginAuthorization(ctx, "sess-1", domain.FlowLogin, "")
	require.NoError(t, err)

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Contains(t, q.Get("scope"), "openid")

	// The state round-trips through the codec with the requested flow.
	state, err := fx.state.Verify(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, domain.FlowLogin, state.Flow)
	assert.Empty(t, state.UserID)

	// The verifier was stored before the URL was returned, and the
	// challenge in the URL is its S256 digest.
	verifier, ok, err := fx.sessions.Get(ctx, "sess-1", "code_verifier")
	require.NoError(t, err)
	require.True(t, ok)
	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))
}

func TestBeginAuthorization_Validation(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	_, err := fx.svc.BeginAuthorization(ctx, "sess-1", domain.AuthFlow("admin"), "")
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)

	_, err = fx.svc.BeginAuthorization(ctx, "sess-1", domain.FlowLink, "")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)
}

// beginAndExtract runs the initiation half and returns the state token so the
// callback half can be exercised.
func beginAndExtract(t *testing.T, fx *authFixture, sessionID string, flow domain.AuthFlow, userID string) string {
	t.Helper()
	rawURL, err := fx.svc.BeginAuthorization(context.Background(), sessionID, flow, userID)
	require.NoError(t, err)
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	return parsed.Query().Get("state")
}

func TestHandleCallback_Register(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	state := beginAndExtract(t, fx, "sess-1", domain.FlowRegister, "")

	outcome, err := fx.svc.HandleCallback(ctx, "sess-1", "auth-code-1", state)
	require.NoError(t, err)
	assert.Equal(t, services.DashboardPath, outcome.RedirectURL)
	assert.Equal(t, domain.FlowRegister, outcome.Flow)
	assert.NotEmpty(t, outcome.UserID)

	// The exchange carried the stored verifier and the incoming code.
	assert.NotEmpty(t, fx.provider.seenVerifier)
	assert.Equal(t, "auth-code-1", fx.provider.seenCode)

	// The new account is findable by its federated identity.
	user, err := fx.users.FindByFederatedIdentity(ctx, "google", "google-user-9")
	require.NoError(t, err)
	assert.Equal(t, outcome.UserID, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NotEmpty(t, user.BusinessID)

	// Registration does not start automation.
	assert.Empty(t, fx.tasks.calls)

	// The session now carries the local user.
	uid, ok, err := fx.sessions.Get(ctx, "sess-1", "user_id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, outcome.UserID, uid)
}

func TestHandleCallback_LoginExistingAndUnknown(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	// Unknown identity: login is refused.
	state := beginAndExtract(t, fx, "sess-1", domain.FlowLogin, "")
	_, err := fx.svc.HandleCallback(ctx, "sess-1", "code-1", state)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindAuthentication, apiErr.Kind)

	// Register, then log in with the same provider identity.
	state = beginAndExtract(t, fx, "sess-2", domain.FlowRegister, "")
	registered, err := fx.svc.HandleCallback(ctx, "sess-2", "code-2", state)
	require.NoError(t, err)

	state = beginAndExtract(t, fx, "sess-3", domain.FlowLogin, "")
	outcome, err := fx.svc.HandleCallback(ctx, "sess-3", "code-3", state)
	require.NoError(t, err)
	assert.Equal(t, registered.UserID, outcome.UserID)
}

func TestHandleCallback_LinkStartsAutomation(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	user := &domain.User{ID: "user-42", BusinessID: "biz-42", Email: "owner@example.com"}
	require.NoError(t, fx.users.CreateUser(ctx, user))

	state := beginAndExtract(t, fx, "sess-1", domain.FlowLink, "user-42")
	outcome, err := fx.svc.HandleCallback(ctx, "sess-1", "code-1", state)
	require.NoError(t, err)
	assert.Equal(t, "user-42", outcome.UserID)

	// The identity is attached to the account named in the signed state.
	linked, err := fx.users.FindByFederatedIdentity(ctx, "google", "google-user-9")
	require.NoError(t, err)
	assert.Equal(t, "user-42", linked.ID)

	// The link kicked off the browser automation for the user's business.
	require.Len(t, fx.tasks.calls, 1)
	assert.Equal(t, "biz-42/"+domain.TaskTypeGoogleAuth, fx.tasks.calls[0])
}

func TestHandleCallback_LinkDuplicateTaskIsNonFatal(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	fx.tasks.err = domain.ErrDuplicateActiveTask

	require.NoError(t, fx.users.CreateUser(ctx, &domain.User{ID: "user-42", BusinessID: "biz-42"}))
	state := beginAndExtract(t, fx, "sess-1", domain.FlowLink, "user-42")

	outcome, err := fx.svc.HandleCallback(ctx, "sess-1", "code-1", state)
	require.NoError(t, err)
	assert.Equal(t, services.DashboardPath, outcome.RedirectURL)
}

func TestHandleCallback_MissingParams(t *testing.T) {
	fx := newAuthFixture(t)
	var apiErr *apierrors.APIError

	_, err := fx.svc.HandleCallback(context.Background(), "sess-1", "", "state")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)

	_, err = fx.svc.HandleCallback(context.Background(), "sess-1", "code", "")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)
}

func TestHandleCallback_NoPendingAuthorization(t *testing.T) {
	fx := newAuthFixture(t)
	state := beginAndExtract(t, fx, "sess-1", domain.FlowLogin, "")

	// A different session has no stored verifier.
	_, err := fx.svc.HandleCallback(context.Background(), "sess-other", "code-1", state)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindState, apiErr.Kind)
}

func TestHandleCallback_VerifierConsumedOnce(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	state := beginAndExtract(t, fx, "sess-1", domain.FlowRegister, "")

	_, err := fx.svc.HandleCallback(ctx, "sess-1", "code-1", state)
	require.NoError(t, err)

	// Replaying the same callback fails: the verifier is gone.
	_, err = fx.svc.HandleCallback(ctx, "sess-1", "code-1", state)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindState, apiErr.Kind)
}

func TestHandleCallback_BadState(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	t.Run("tampered", func(t *testing.T) {
		state := beginAndExtract(t, fx, "sess-1", domain.FlowLogin, "")
		_, err := fx.svc.HandleCallback(ctx, "sess-1", "code-1", state+"x")
		var apiErr *apierrors.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, apierrors.KindState, apiErr.Kind)
	})

	t.Run("signed by another key", func(t *testing.T) {
		_ = beginAndExtract(t, fx, "sess-2", domain.FlowLogin, "")
		foreign := statetoken.NewCodec([]byte("some-other-secret"), 15*time.Minute)
		forged, err := foreign.Sign(domain.AuthState{Flow: domain.FlowLogin})
		require.NoError(t, err)

		_, err = fx.svc.HandleCallback(ctx, "sess-2", "code-1", forged)
		var apiErr *apierrors.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, apierrors.KindState, apiErr.Kind)
	})
}

func TestHandleCallback_ExchangeFailure(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	// Point the token endpoint at a server that rejects everything.
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(rejecting.Close)

	provider, err := federation.NewGoogleProvider(federation.GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example.com/auth/google/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:  rejecting.URL + "/auth",
			TokenURL: rejecting.URL + "/token",
		},
	})
	require.NoError(t, err)
	svc := services.NewAuthService(provider, fx.sessions, fx.users, fx.state, fx.tasks, &fakeCredentialSource{})

	rawURL, err := svc.BeginAuthorization(ctx, "sess-1", domain.FlowLogin, "")
	require.NoError(t, err)
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)

	_, err = svc.HandleCallback(ctx, "sess-1", "bad-code", parsed.Query().Get("state"))
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindUpstream, apiErr.Kind)
	assert.False(t, errors.Is(err, domain.ErrStateExpired))
}
