// Package auth handles email/password and Google sign-in.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"nicmeup/clock"
	"nicmeup/config"
	"nicmeup/logging"
	"nicmeup/models"
	"nicmeup/store"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var (
	ErrEmailTaken         = errors.New("auth: email already in use")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrGoogleNotEnabled   = errors.New("auth: google sign-in not configured")
	ErrInvalidCredential  = errors.New("auth: invalid google credential")
)

// Result is returned by every successful sign-in.
type Result struct {
	Token   string              `json:"token"`
	UserID  string              `json:"userId"`
	Profile *models.UserProfile `json:"profile"`
	Created bool                `json:"created"`
}

type GoogleUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// CredentialVerifier checks a Google ID token's signature, issuer, expiry
// and audience. idtoken.Validate is the production implementation.
type CredentialVerifier func(ctx context.Context, credential, audience string) (*idtoken.Payload, error)

type Service struct {
	users         *store.Users
	issuer        *Issuer
	google        *oauth2.Config
	clientID      string
	verify        CredentialVerifier
	clock         clock.Clock
	defaultRadius float64
	cost          int
	log           zerolog.Logger
}

func NewService(users *store.Users, issuer *Issuer, cfg *config.Config, c clock.Clock, log zerolog.Logger) *Service {
	s := &Service{
		users:         users,
		issuer:        issuer,
		clientID:      cfg.GoogleClientID,
		verify:        idtoken.Validate,
		clock:         c,
		defaultRadius: cfg.Protocol.DefaultRadiusFeet,
		cost:          bcrypt.DefaultCost,
		log:           logging.Component(log, "auth"),
	}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		s.google = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		}
	} else {
		s.log.Warn().Msg("google sign-in not configured")
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newProfile is a fresh account with the default assist preferences.
func (s *Service) newProfile(email, provider string) *models.UserProfile {
	now := s.clock.Now()
	return &models.UserProfile{
		ID:              uuid.NewString(),
		Email:           email,
		AuthProvider:    provider,
		QuestRadiusFeet: s.defaultRadius,
		AssistPoints:    []models.AssistPoint{},
		CreatedAt:       now,
		LastSeen:        now,
	}
}

func (s *Service) Signup(ctx context.Context, email, password, name string) (*Result, error) {
	email = normalizeEmail(email)
	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	p := s.newProfile(email, "email")
	p.PasswordHash = string(hash)
	p.Name = name
	if err := s.users.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	s.log.Info().Str(logging.USER, p.ID).Msg("signup")
	return s.result(p, true)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	p, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if p.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	s.touch(ctx, p.ID)
	return s.result(p, false)
}

// GoogleCredential signs in with a Google Identity Services credential.
// The token must be signed by Google for this app's client id.
func (s *Service) GoogleCredential(ctx context.Context, credential string) (*Result, error) {
	if s.clientID == "" {
		return nil, ErrGoogleNotEnabled
	}
	payload, err := s.verify(ctx, credential, s.clientID)
	if err != nil {
		s.log.Debug().Err(err).Msg("google credential rejected")
		return nil, ErrInvalidCredential
	}
	str := func(k string) string {
		v, _ := payload.Claims[k].(string)
		return v
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, ErrInvalidCredential
	}
	gu := GoogleUser{ID: payload.Subject, Email: str("email"), Name: str("name"), Picture: str("picture")}
	if gu.Email == "" {
		return nil, ErrInvalidCredential
	}
	return s.SignInGoogle(ctx, gu)
}

func (s *Service) AuthURL(state string) (string, error) {
	if s.google == nil {
		return "", ErrGoogleNotEnabled
	}
	return s.google.AuthCodeURL(state), nil
}

// GoogleCallback finishes the redirect flow for code.
func (s *Service) GoogleCallback(ctx context.Context, code string) (*Result, error) {
	if s.google == nil {
		return nil, ErrGoogleNotEnabled
	}
	tok, err := s.google.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.google.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google userinfo: status %d", resp.StatusCode)
	}

	var gu GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return s.SignInGoogle(ctx, gu)
}

// SignInGoogle finds the account for gu's email, creating it on first use.
func (s *Service) SignInGoogle(ctx context.Context, gu GoogleUser) (*Result, error) {
	email := normalizeEmail(gu.Email)
	p, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		f := store.Fields{"lastSeen": s.clock.Now()}
		if p.GoogleID == "" && gu.ID != "" {
			f["googleId"] = gu.ID
		}
		if p.PhotoURL == "" && gu.Picture != "" {
			f["photoUrl"] = gu.Picture
		}
		if err := s.users.Update(ctx, p.ID, f); err != nil {
			s.log.Warn().Err(err).Str(logging.USER, p.ID).Msg("update google profile")
		}
		return s.result(p, false)
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	p = s.newProfile(email, "google")
	p.GoogleID = gu.ID
	p.Name = gu.Name
	p.PhotoURL = gu.Picture
	if err := s.users.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	s.log.Info().Str(logging.USER, p.ID).Msg("google signup")
	return s.result(p, true)
}

func (s *Service) touch(ctx context.Context, userID string) {
	if err := s.users.Update(ctx, userID, store.Fields{"lastSeen": s.clock.Now()}); err != nil {
		s.log.Warn().Err(err).Str(logging.USER, userID).Msg("update last seen")
	}
}

func (s *Service) result(p *models.UserProfile, created bool) (*Result, error) {
	token, err := s.issuer.Issue(p.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Result{Token: token, UserID: p.ID, Profile: p, Created: created}, nil
}
