package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/pmb2/Social-Genius-sub006/domain"
	apierrors "github.com/pmb2/Social-Genius-sub006/errors"
	"github.com/pmb2/Social-Genius-sub006/internal/federation"
	"github.com/pmb2/Social-Genius-sub006/internal/pkce"
	"github.com/pmb2/Social-Genius-sub006/internal/statetoken"
)

// Session fields written during the authorization round trip.
const (
	sessionFieldVerifier        = "code_verifier"
	sessionFieldChallengeMethod = "challenge_method"
	sessionFieldUserID          = "user_id"
)

// Redirect destinations after the callback resolves.
const (
	DashboardPath    = "/dashboard"
	LoginFailurePath = "/auth/login"
)

// TaskCreator starts a browser-automation task. Implemented by TaskService.
type TaskCreator interface {
	CreateTask(ctx context.Context, businessID, taskType, sealedCredentials string) (string, error)
}

// CredentialSource supplies the sealed provider credentials for a business,
// backed by the external profile store.
type CredentialSource interface {
	SealedCredentials(ctx context.Context, businessID string) (string, error)
}

// AuthService implements the authorization initiation and callback sides of
// the PKCE flow against one external provider.
type AuthService struct {
	provider    federation.OAuth2Provider
	sessions    domain.SessionStore
	users       domain.UserRepository
	state       *statetoken.Codec
	tasks       TaskCreator
	credentials CredentialSource
	method      pkce.Method
}

// NewAuthService creates an AuthService. The challenge method is S256; the
// same method value is carried through the authorization request so the
// provider accepts the later exchange.
func NewAuthService(
	provider federation.OAuth2Provider,
	sessions domain.SessionStore,
	users domain.UserRepository,
	state *statetoken.Codec,
	tasks TaskCreator,
	credentials CredentialSource,
) *AuthService {
	return &AuthService{
		provider:    provider,
		sessions:    sessions,
		users:       users,
		state:       state,
		tasks:       tasks,
		credentials: credentials,
		method:      pkce.MethodS256,
	}
}

// BeginAuthorization validates the requested flow, mints the PKCE pair and
// signed state, and returns the provider authorization URL. The verifier is
// durably stored in the session before the URL is handed back: the caller
// must not issue the redirect until this returns.
func (s *AuthService) BeginAuthorization(ctx context.Context, sessionID string, flow domain.AuthFlow, userID string) (string, error) {
	if !flow.Valid() {
		return "", apierrors.NewValidation(fmt.Sprintf("unsupported flow %q", flow))
	}
	if flow == domain.FlowLink && userID == "" {
		return "", apierrors.NewValidation("userId is required for the link flow")
	}
	if flow != domain.FlowLink {
		userID = ""
	}

	verifier, err := pkce.GenerateVerifier()
	if err != nil {
		return "", apierrors.NewInfrastructure("could not generate code verifier")
	}
	challenge, err := pkce.DeriveChallenge(verifier, s.method)
	if err != nil {
		return "", apierrors.NewInfrastructure("could not derive code challenge")
	}

	// Ordering matters: the verifier must be persisted before the user
	// agent leaves for the provider, or the callback will not find it.
	if err := s.sessions.Put(ctx, sessionID, sessionFieldVerifier, verifier); err != nil {
		return "", apierrors.NewInfrastructure("could not persist code verifier")
	}
	if err := s.sessions.Put(ctx, sessionID, sessionFieldChallengeMethod, string(s.method)); err != nil {
		return "", apierrors.NewInfrastructure("could not persist challenge method")
	}

	stateToken, err := s.state.Sign(domain.AuthState{Flow: flow, UserID: userID})
	if err != nil {
		return "", apierrors.NewInfrastructure("could not sign state")
	}

	url := s.provider.AuthCodeURL(stateToken,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", string(s.method)),
	)
	log.Info().Str("flow", string(flow)).Str("provider", s.provider.Name()).Msg("authorization initiated")
	return url, nil
}

// CallbackOutcome is the result of a successfully dispatched callback.
type CallbackOutcome struct {
	RedirectURL string
	UserID      string
	Flow        domain.AuthFlow
}

// HandleCallback processes the provider's redirect: it recovers the
// session-bound verifier, verifies the signed state, exchanges the code with
// the exact original verifier, fetches the provider profile, and dispatches
// by flow. Callers map the returned error onto the generic failure redirect;
// provider error detail never reaches the user agent.
func (s *AuthService) HandleCallback(ctx context.Context, sessionID, code, stateToken string) (*CallbackOutcome, error) {
	if code == "" || stateToken == "" {
		return nil, apierrors.NewValidation("missing code or state parameter")
	}

	// Verifier absence means a replayed or stale callback, or a session
	// that expired before the user finished at the provider.
	verifier, ok, err := s.sessions.Get(ctx, sessionID, sessionFieldVerifier)
	if err != nil {
		return nil, apierrors.NewInfrastructure("session store unavailable")
	}
	if !ok {
		return nil, apierrors.NewState("no pending authorization for this session")
	}
	// Consumed exactly once: a second callback with the same session fails
	// the check above.
	if err := s.sessions.Delete(ctx, sessionID, sessionFieldVerifier); err != nil {
		log.Warn().Err(err).Msg("failed to delete consumed verifier")
	}

	state, err := s.state.Verify(stateToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStateExpired):
			return nil, apierrors.NewState("state expired")
		case errors.Is(err, domain.ErrStateSignature):
			return nil, apierrors.NewState("state signature invalid")
		default:
			return nil, apierrors.NewState("state malformed")
		}
	}

	token, err := s.provider.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		log.Error().Err(err).Str("provider", s.provider.Name()).Msg("code exchange rejected")
		return nil, apierrors.NewUpstream("code exchange failed")
	}

	profile, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("provider", s.provider.Name()).Msg("profile fetch failed")
		return nil, apierrors.NewUpstream("profile fetch failed")
	}

	user, err := s.dispatch(ctx, state, profile)
	if err != nil {
		return nil, err
	}

	// Establish the local session and send the user to the dashboard.
	if err := s.sessions.Put(ctx, sessionID, sessionFieldUserID, user.ID); err != nil {
		return nil, apierrors.NewInfrastructure("could not establish session")
	}

	return &CallbackOutcome{
		RedirectURL: DashboardPath,
		UserID:      user.ID,
		Flow:        state.Flow,
	}, nil
}

// dispatch resolves the callback into a local account per flow.
func (s *AuthService) dispatch(ctx context.Context, state domain.AuthState, profile *federation.ExternalUserInfo) (*domain.User, error) {
	switch state.Flow {
	case domain.FlowLogin:
		user, err := s.users.FindByFederatedIdentity(ctx, s.provider.Name(), profile.ProviderUserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, apierrors.NewAuthentication("no local account for this identity")
		}
		if err != nil {
			return nil, apierrors.NewInfrastructure("identity lookup failed")
		}
		return user, nil

	case domain.FlowRegister:
		now := time.Now().UTC()
		user := &domain.User{
			ID:         uuid.NewString(),
			BusinessID: uuid.NewString(),
			Email:      profile.Email,
			FirstName:  profile.FirstName,
			LastName:   profile.LastName,
			PictureURL: profile.PictureURL,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, apierrors.NewInfrastructure("account creation failed")
		}
		if err := s.linkIdentity(ctx, user.ID, profile); err != nil {
			return nil, err
		}
		return user, nil

	case domain.FlowLink:
		// The server-signed state is the sole source of truth for which
		// account receives the link; ids from the callback URL are never
		// consulted.
		user, err := s.users.GetUserByID(ctx, state.UserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, apierrors.NewAuthentication("linked account not found")
		}
		if err != nil {
			return nil, apierrors.NewInfrastructure("account lookup failed")
		}
		if err := s.linkIdentity(ctx, user.ID, profile); err != nil {
			return nil, err
		}
		s.startLinkAutomation(ctx, user.BusinessID)
		return user, nil

	default:
		return nil, apierrors.NewState("state malformed")
	}
}

func (s *AuthService) linkIdentity(ctx context.Context, userID string, profile *federation.ExternalUserInfo) error {
	err := s.users.LinkIdentity(ctx, &domain.FederatedIdentity{
		UserID:         userID,
		Provider:       s.provider.Name(),
		ProviderUserID: profile.ProviderUserID,
		ProviderEmail:  profile.Email,
	})
	if err != nil {
		return apierrors.NewInfrastructure("identity link failed")
	}
	return nil
}

// startLinkAutomation kicks off the browser login task for a freshly linked
// business. Best effort: the link itself already succeeded, and a duplicate
// active task just means an earlier run is still in flight.
func (s *AuthService) startLinkAutomation(ctx context.Context, businessID string) {
	if s.tasks == nil || s.credentials == nil {
		return
	}
	sealed, err := s.credentials.SealedCredentials(ctx, businessID)
	if err != nil {
		log.Warn().Err(err).Str("business_id", businessID).Msg("no automation credentials for business")
		return
	}
	taskID, err := s.tasks.CreateTask(ctx, businessID, domain.TaskTypeGoogleAuth, sealed)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateActiveTask) {
			log.Info().Str("business_id", businessID).Msg("automation already in flight for business")
			return
		}
		log.Error().Err(err).Str("business_id", businessID).Msg("failed to start automation task")
		return
	}
	log.Info().Str("business_id", businessID).Str("task_id", taskID).Msg("link automation task started")
}
