package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"prdigy/api/internal/access"
	"prdigy/api/internal/auth"
	"prdigy/api/internal/authpw"
	"prdigy/api/internal/config"
	"prdigy/api/internal/email"
	"prdigy/api/internal/migration"
	"prdigy/api/internal/roadmap"
	"prdigy/api/internal/search"
	"prdigy/api/internal/store"
	"prdigy/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Verified     bool
	Guest        bool
	JTI          string
	ExpiresAt    time.Time
}

// viewer is the session as the access rules see it. Guests are
// authenticated but carry no email.
func (s Session) viewer() access.Viewer {
	return access.Viewer{UserID: s.UserID, Email: s.Email, Authenticated: s.UserID != ""}
}

func (s Session) identity() migration.Identity {
	return migration.Identity{
		UserID:        s.UserID,
		Email:         s.Email,
		Anonymous:     s.Guest,
		ProfileLoaded: s.UserID != "",
		EmailVerified: s.Verified,
	}
}

type dataStore interface {
	authpw.UserStore
	refreshStore
	roadmap.Gateway
	access.Gateway
	migration.Gateway

	CreateRoadmap(ctx context.Context, ownerID string, in roadmap.RoadmapInput) (roadmap.Roadmap, error)
	DeleteRoadmap(ctx context.Context, roadmapID string) error
	RoadmapIDFor(ctx context.Context, kind roadmap.Kind, id string) (string, error)

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

var _ dataStore = (*store.PostgresStore)(nil)

// refreshStore keeps hashed refresh tokens. Postgres and Redis both
// implement it.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexTree(tree roadmap.Tree)
	IndexItem(item search.ItemRecord)
	RemoveItems(ids ...string)
	RemoveRoadmap(roadmapID string)
}

// MarkersFunc returns the migration markers of one device.
type MarkersFunc func(deviceID string) migration.Markers

const maxCoordinators = 4096

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	search   searchIndex
	mail     *email.Service
	auth     *authpw.Service
	access   *access.Resolver
	markers  MarkersFunc
	logger   *log.Logger

	coordMu      sync.Mutex
	coordinators map[string]*migration.Coordinator
}

type Option func(*Service)

// WithSessionStore moves refresh tokens out of Postgres.
func WithSessionStore(sessions refreshStore) Option {
	return func(s *Service) { s.sessions = sessions }
}

func WithSearch(index searchIndex) Option {
	return func(s *Service) { s.search = index }
}

func WithMailer(m *email.Service) Option {
	return func(s *Service) { s.mail = m }
}

// WithDeviceMarkers sets where guest and migration markers live. The
// default keeps them in process memory.
func WithDeviceMarkers(fn MarkersFunc) Option {
	return func(s *Service) { s.markers = fn }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPasswordCost(cost int) Option {
	return func(s *Service) { s.auth = authpw.NewService(s.store, authpw.WithCost(cost)) }
}

func New(cfg config.Config, data dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:          cfg,
		store:        data,
		sessions:     data,
		mail:         email.NewService(email.Config{}),
		search:       search.NewService(nil, nil, log.Default().WithPrefix("search")),
		auth:         authpw.NewService(data),
		logger:       log.Default().WithPrefix("app"),
		coordinators: make(map[string]*migration.Coordinator),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.markers == nil {
		s.markers = memoryMarkers()
	}
	s.access = access.NewResolver(data,
		access.WithNotifier(email.NewShareNotifier(s.mail, cfg.PublicURL)),
		access.WithLogger(s.logger.WithPrefix("access")),
	)
	return s
}

func memoryMarkers() MarkersFunc {
	var mu sync.Mutex
	devices := make(map[string]*migration.MemoryMarkers)
	return func(deviceID string) migration.Markers {
		mu.Lock()
		defer mu.Unlock()
		m, ok := devices[deviceID]
		if !ok {
			m = &migration.MemoryMarkers{}
			devices[deviceID] = m
		}
		return m
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.mail.IsConfigured()
}

func (s *Service) publicLink(path string, query url.Values) string {
	link := strings.TrimRight(s.cfg.PublicURL, "/") + path
	if len(query) > 0 {
		link += "?" + query.Encode()
	}
	return link
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (*authpw.SignUpResponse, error) {
	resp, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.SMTPConfigured() {
		link := s.publicLink("/verify-email", url.Values{"token": {resp.VerificationToken}})
		if err := s.mail.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, link); err != nil {
			s.logger.Warn("verification email failed", "user_id", resp.User.ID, "err", err)
		}
	}
	return resp, nil
}

// SignIn issues a session for valid credentials. Unverified accounts get a
// session too; the caller sees Verified=false.
func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	resp, err := s.auth.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, resp.User, s.cfg.AccessTTL)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.auth.VerifyEmail(ctx, token)
}

func (s *Service) ResendVerification(ctx context.Context, session Session) (string, error) {
	token, err := s.auth.ResendVerification(ctx, session.UserID)
	if err != nil || token == "" {
		return "", err
	}
	if s.SMTPConfigured() {
		link := s.publicLink("/verify-email", url.Values{"token": {token}})
		if err := s.mail.SendVerificationEmail(session.Email, session.UserName, link); err != nil {
			s.logger.Warn("verification email failed", "user_id", session.UserID, "err", err)
		}
	}
	return token, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, address string) (string, error) {
	token, err := s.auth.RequestPasswordReset(ctx, address)
	if err != nil || token == "" {
		return "", err
	}
	if s.SMTPConfigured() {
		link := s.publicLink("/reset-password", url.Values{"token": {token}})
		if err := s.mail.SendPasswordResetEmail(address, "", link); err != nil {
			s.logger.Warn("password reset email failed", "err", err)
		}
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, req authpw.ResetPasswordRequest) error {
	return s.auth.ResetPassword(ctx, req)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("get user: %w", err)
	}
	ttl := s.cfg.AccessTTL
	if user.IsGuest {
		ttl = s.cfg.GuestTTL
	}
	return s.issueSession(ctx, user, ttl)
}

func (s *Service) issueSession(ctx context.Context, user store.User, ttl time.Duration) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), user.Claims(jti, expiresAt))
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Verified:     user.IsEmailVerified,
		Guest:        user.IsGuest,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies token and reloads the user, so a verification
// that happened after the token was issued is visible at once.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Verified:  user.IsEmailVerified,
		Guest:     user.IsGuest,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token failed", "user_id", session.UserID, "err", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session failed", "user_id", session.UserID, "err", err)
		}
	}
	return nil
}
