// Package service contains the business logic layer.
//
// Services orchestrate interactions between repositories, external APIs,
// and domain logic. They are responsible for:
// - Input normalization
// - Business rule enforcement
// - Error translation (database errors -> domain and flow errors)
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/DukeRupert/brandedflow/internal/email"
	"github.com/DukeRupert/brandedflow/internal/flow"
	"github.com/DukeRupert/brandedflow/internal/metrics"
	"github.com/DukeRupert/brandedflow/internal/repository"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// BcryptCost is the cost factor for bcrypt password hashing.
	// Not configurable at runtime so it cannot be weakened by accident.
	BcryptCost = 12

	// SessionTokenBytes is the number of random bytes for session tokens.
	// The token is hex-encoded to 64 characters for the cookie value.
	SessionTokenBytes = domain.TokenBytes

	// DefaultSessionDuration is used when no duration is configured.
	DefaultSessionDuration = 24 * time.Hour

	// MinSessionDuration and MaxSessionDuration bound configured durations.
	MinSessionDuration = 15 * time.Minute
	MaxSessionDuration = 30 * 24 * time.Hour

	// generatedPasswordBytes sizes the throwaway password given to a new
	// account. The user never sees it; they pick their own through the
	// emailed set-password link.
	generatedPasswordBytes = 24
)

// dummyHash is a bcrypt hash compared against when a login does not exist,
// so unknown and known accounts take the same time to reject.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// =============================================================================
// Interface Definition
// =============================================================================

// IdentityService is the identity store the account flows talk to.
//
// Methods that back a form submission return *domain.FlowError on expected
// failures so the caller can forward the codes in a redirect. Anything else
// is an infrastructure failure wrapped as a *domain.Error.
type IdentityService interface {
	// VerifyCredentials checks a login (or email) and password. Failure codes:
	// empty_username, empty_password (both may be present), invalid_username,
	// incorrect_password.
	VerifyCredentials(ctx context.Context, login, password string) (*domain.User, error)

	// StartSession creates a session for the user and returns the raw token.
	StartSession(ctx context.Context, userID uuid.UUID) (string, error)

	// GetBySessionToken resolves a raw session token to its user.
	// Returns domain.EUNAUTHORIZED if the token is invalid or expired.
	GetBySessionToken(ctx context.Context, token string) (*domain.User, error)

	// Logout invalidates a session by its raw token. Idempotent.
	Logout(ctx context.Context, token string) error

	// EmailExists reports whether value is taken as a login or an email.
	EmailExists(ctx context.Context, value string) (bool, error)

	// CreateAccount stores a new subscriber account. Names are stripped of
	// markup. A unique-constraint race yields the email_exists code.
	CreateAccount(ctx context.Context, params domain.NewAccountParams) (*domain.User, error)

	// IssueResetToken looks up a login or email, issues a reset key and
	// emails the reset link. Failure codes: empty_username, invalid_email,
	// invalidcombo, no_password_key_update, retrieve_password_email_failure.
	IssueResetToken(ctx context.Context, identifier string) error

	// ValidateResetKey checks a reset key without consuming it. Returns
	// domain.ErrResetKeyExpired or domain.ErrResetKeyInvalid on failure.
	ValidateResetKey(ctx context.Context, key, login string) (*domain.User, error)

	// CommitNewPassword consumes the key, stores the new password and ends
	// every session of the user. Failure codes: password_reset_empty,
	// expiredkey, invalidkey.
	CommitNewPassword(ctx context.Context, key, login, password string) error

	// UpdateProfile updates first and last name and returns the fresh user.
	UpdateProfile(ctx context.Context, params domain.ProfileUpdateParams) (*domain.User, error)

	// DeleteExpiredSessions removes expired sessions and returns the count.
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// ResetKeyStore issues and checks password reset keys.
type ResetKeyStore interface {
	Issue(ctx context.Context, userID, login string) (*domain.ResetKeyResult, error)
	Check(ctx context.Context, login, key string) (*domain.ResetKeyRecord, error)
	Consume(ctx context.Context, login, key string) (*domain.ResetKeyRecord, error)
	Revoke(ctx context.Context, login string) error
}

// =============================================================================
// Implementation
// =============================================================================

// IdentityConfig holds the identity service settings.
type IdentityConfig struct {
	// SessionDuration is how long a session remains valid.
	SessionDuration time.Duration

	// AdminEmails are treated as administrators regardless of stored role.
	AdminEmails []string

	// AuthURL is the platform auth endpoint used to build reset links.
	AuthURL string
}

type identityService struct {
	queries         *repository.Queries
	keys            ResetKeyStore
	mailer          email.EmailService
	sanitizer       *bluemonday.Policy
	sessionDuration time.Duration
	adminEmails     map[string]bool
	authURL         string
	logger          *slog.Logger
}

// NewIdentityService creates a new IdentityService instance.
//
// Dependencies:
// - queries: database queries for users and sessions
// - keys: reset key store
// - mailer: transactional email sender
// - logger: structured logger for operation logging
func NewIdentityService(
	queries *repository.Queries,
	keys ResetKeyStore,
	mailer email.EmailService,
	cfg IdentityConfig,
	logger *slog.Logger,
) IdentityService {
	admins := make(map[string]bool, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = true
		}
	}
	return &identityService{
		queries:         queries,
		keys:            keys,
		mailer:          mailer,
		sanitizer:       bluemonday.StrictPolicy(),
		sessionDuration: normalizeSessionDuration(cfg.SessionDuration),
		adminEmails:     admins,
		authURL:         cfg.AuthURL,
		logger:          logger,
	}
}

// =============================================================================
// Credentials and Sessions
// =============================================================================

// VerifyCredentials authenticates a login or email with a password.
//
// Empty fields are reported together, the way the stock login form does.
// An unknown account still pays for a bcrypt comparison.
func (s *identityService) VerifyCredentials(ctx context.Context, login, password string) (*domain.User, error) {
	const op = "IdentityService.VerifyCredentials"

	login = strings.TrimSpace(login)

	var codes []string
	if login == "" {
		codes = append(codes, domain.CodeEmptyUsername)
	}
	if password == "" {
		codes = append(codes, domain.CodeEmptyPassword)
	}
	if len(codes) > 0 {
		return nil, domain.Fail(op, codes...)
	}

	repoUser, err := s.lookup(ctx, login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, domain.Fail(op, domain.CodeInvalidUsername)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(repoUser.PasswordHash), []byte(password)); err != nil {
		return nil, domain.Fail(op, domain.CodeIncorrectPassword)
	}

	return s.toDomain(repoUser), nil
}

// StartSession generates a session token, stores its hash and returns the
// raw token for the cookie.
func (s *identityService) StartSession(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "IdentityService.StartSession"

	token, err := generateSessionToken()
	if err != nil {
		return "", domain.Internal(err, op, "Failed to generate session token")
	}

	_, err = s.queries.CreateSession(ctx, repository.CreateSessionParams{
		UserID:    userID,
		TokenHash: hashSessionToken(token),
		ExpiresAt: time.Now().Add(s.sessionDuration),
	})
	if err != nil {
		return "", domain.Internal(err, op, "Failed to create session")
	}

	s.logger.Info("user logged in", "user_id", userID)
	return token, nil
}

// GetBySessionToken retrieves a user by their session token.
func (s *identityService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "IdentityService.GetBySessionToken"

	if len(token) != SessionTokenBytes*2 {
		return nil, domain.Unauthorized(op, "Invalid or expired session")
	}

	session, err := s.queries.GetSessionByTokenHash(ctx, hashSessionToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Unauthorized(op, "Invalid or expired session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve session")
	}

	repoUser, err := s.queries.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Unauthorized(op, "Invalid or expired session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	user := s.toDomain(repoUser)
	user.PasswordHash = ""
	return user, nil
}

// Logout invalidates a session. Unknown or malformed tokens are ignored.
func (s *identityService) Logout(ctx context.Context, token string) error {
	if len(token) != SessionTokenBytes*2 {
		return nil
	}

	if err := s.queries.DeleteSession(ctx, hashSessionToken(token)); err != nil {
		s.logger.Warn("failed to delete session", "error", err)
	}

	s.logger.Debug("session invalidated")
	return nil
}

// DeleteExpiredSessions removes all expired sessions.
func (s *identityService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const op = "IdentityService.DeleteExpiredSessions"

	n, err := s.queries.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to delete expired sessions")
	}

	s.logger.Info("expired sessions cleaned up", "count", n)
	return n, nil
}

// =============================================================================
// Registration
// =============================================================================

// EmailExists checks both the login and email columns.
func (s *identityService) EmailExists(ctx context.Context, value string) (bool, error) {
	const op = "IdentityService.EmailExists"

	exists, err := s.queries.LoginOrEmailExists(ctx, strings.TrimSpace(value))
	if err != nil {
		return false, domain.Internal(err, op, "Failed to check email availability")
	}
	return exists, nil
}

// CreateAccount creates a subscriber account.
//
// The pre-check in the registration flow is only a fast path. The unique
// indexes on lower(login) and lower(email) decide races.
func (s *identityService) CreateAccount(ctx context.Context, params domain.NewAccountParams) (*domain.User, error) {
	const op = "IdentityService.CreateAccount"

	params.Email = strings.TrimSpace(params.Email)
	params.Login = strings.TrimSpace(params.Login)
	if params.Login == "" {
		params.Login = params.Email
	}

	password := params.Password
	if password == "" {
		generated, err := generatePassword()
		if err != nil {
			return nil, domain.Internal(err, op, "Failed to generate password")
		}
		password = generated
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to hash password")
	}

	repoUser, err := s.queries.CreateUser(ctx, repository.CreateUserParams{
		Login:        params.Login,
		Email:        params.Email,
		PasswordHash: string(passwordHash),
		FirstName:    domain.ToNullString(s.stripMarkup(params.FirstName)),
		LastName:     domain.ToNullString(s.stripMarkup(params.LastName)),
		Role:         string(domain.RoleSubscriber),
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, domain.FailWith(err, op, domain.CodeEmailExists)
		}
		return nil, domain.Internal(err, op, "Failed to create user")
	}

	metrics.AccountsCreated.Inc()

	user := s.toDomain(repoUser)
	user.PasswordHash = ""

	s.logger.Info("user registered", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// =============================================================================
// Profile
// =============================================================================

// UpdateProfile updates a user's first and last name.
func (s *identityService) UpdateProfile(ctx context.Context, params domain.ProfileUpdateParams) (*domain.User, error) {
	const op = "IdentityService.UpdateProfile"

	err := s.queries.UpdateUserProfile(ctx, repository.UpdateUserProfileParams{
		ID:        params.UserID,
		FirstName: domain.ToNullString(s.stripMarkup(params.FirstName)),
		LastName:  domain.ToNullString(s.stripMarkup(params.LastName)),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", params.UserID.String())
		}
		return nil, domain.Internal(err, op, "Failed to update profile")
	}

	repoUser, err := s.queries.GetUserByID(ctx, params.UserID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to reload user")
	}

	s.logger.Info("user profile updated", "user_id", params.UserID)

	user := s.toDomain(repoUser)
	user.PasswordHash = ""
	return user, nil
}

// =============================================================================
// Password Reset
// =============================================================================

// IssueResetToken handles a lost-password submission.
//
// An identifier containing "@" is looked up as an email and reports
// invalid_email when missing; anything else is a login and reports
// invalidcombo.
func (s *identityService) IssueResetToken(ctx context.Context, identifier string) error {
	const op = "IdentityService.IssueResetToken"

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.Fail(op, domain.CodeEmptyUsername)
	}

	var (
		repoUser repository.User
		err      error
	)
	if strings.Contains(identifier, "@") {
		repoUser, err = s.queries.GetUserByEmail(ctx, identifier)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FailWith(err, op, domain.CodeInvalidEmail)
		}
	} else {
		repoUser, err = s.queries.GetUserByLogin(ctx, identifier)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FailWith(err, op, domain.CodeInvalidCombo)
		}
	}
	if err != nil {
		return domain.Internal(err, op, "Failed to retrieve user")
	}

	user := s.toDomain(repoUser)

	issued, err := s.keys.Issue(ctx, user.ID.String(), user.Login)
	if err != nil {
		s.logger.Error("failed to issue reset key", "user_id", user.ID, "error", err)
		return domain.FailWith(err, op, domain.CodeResetKeyIssueFailure)
	}
	metrics.ResetKeyEvent("issued")

	link := flow.ResetLink(s.authURL, issued.Key, user.Login)
	err = s.mailer.SendPasswordResetEmail(ctx, user.Email, user.DisplayName(), link)
	metrics.EmailAttempted("password_reset", err)
	if err != nil {
		// Nobody received this key.
		if rerr := s.keys.Revoke(ctx, user.Login); rerr != nil {
			s.logger.Warn("failed to revoke undelivered reset key", "user_id", user.ID, "error", rerr)
		}
		return domain.FailWith(err, op, domain.CodeResetEmailFailure)
	}

	s.logger.Info("password reset requested", "user_id", user.ID)
	return nil
}

// ValidateResetKey implements flow.ResetKeyValidator.
func (s *identityService) ValidateResetKey(ctx context.Context, key, login string) (*domain.User, error) {
	record, err := s.keys.Check(ctx, login, key)
	if err != nil {
		s.countKeyFailure(err)
		return nil, err
	}

	user, err := s.userForRecord(ctx, record)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// CommitNewPassword finishes a reset.
//
// The key is consumed before the password is written so a key can never be
// used twice, even by concurrent submissions.
func (s *identityService) CommitNewPassword(ctx context.Context, key, login, password string) error {
	const op = "IdentityService.CommitNewPassword"

	if password == "" {
		return domain.Fail(op, domain.CodePasswordResetEmpty)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return domain.Internal(err, op, "Failed to hash new password")
	}

	record, err := s.keys.Consume(ctx, login, key)
	if err != nil {
		s.countKeyFailure(err)
		if errors.Is(err, domain.ErrResetKeyExpired) {
			return domain.FailWith(err, op, domain.CodeExpiredKey)
		}
		return domain.FailWith(err, op, domain.CodeInvalidKey)
	}
	metrics.ResetKeyEvent("consumed")

	user, err := s.userForRecord(ctx, record)
	if err != nil {
		return domain.FailWith(err, op, domain.CodeInvalidKey)
	}

	err = s.queries.UpdateUserPassword(ctx, repository.UpdateUserPasswordParams{
		ID:           user.ID,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		return domain.Internal(err, op, "Failed to update password")
	}

	if err := s.queries.DeleteUserSessions(ctx, user.ID); err != nil {
		s.logger.Warn("failed to delete user sessions after password reset", "user_id", user.ID, "error", err)
	}

	s.logger.Info("password reset completed", "user_id", user.ID)
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// lookup finds a user by email when the value looks like one, else by login.
func (s *identityService) lookup(ctx context.Context, login string) (repository.User, error) {
	if strings.Contains(login, "@") {
		u, err := s.queries.GetUserByEmail(ctx, login)
		if !errors.Is(err, sql.ErrNoRows) {
			return u, err
		}
	}
	return s.queries.GetUserByLogin(ctx, login)
}

func (s *identityService) userForRecord(ctx context.Context, record *domain.ResetKeyRecord) (*domain.User, error) {
	id, err := uuid.Parse(record.UserID)
	if err != nil {
		return nil, domain.ErrResetKeyInvalid
	}
	repoUser, err := s.queries.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrResetKeyInvalid
		}
		return nil, err
	}
	return s.toDomain(repoUser), nil
}

func (s *identityService) countKeyFailure(err error) {
	switch {
	case errors.Is(err, domain.ErrResetKeyExpired):
		metrics.ResetKeyEvent("expired")
	case errors.Is(err, domain.ErrResetKeyInvalid):
		metrics.ResetKeyEvent("invalid")
	default:
		s.logger.Error("reset key store failure", "error", err)
		metrics.ResetKeyEvent("error")
	}
}

// stripMarkup reduces v to plain text for storage, at most
// domain.MaxNameLength characters. Sanitizing and decoding
// repeat until neither changes the value, so entity-encoded tags are
// decoded and then removed instead of surviving as live markup. The
// renderer escapes the result again on output.
func (s *identityService) stripMarkup(v string) string {
	for range maxStripPasses {
		next := html.UnescapeString(s.sanitizer.Sanitize(v))
		if next == v {
			return domain.TruncateName(v)
		}
		v = next
	}
	// Still changing after maxStripPasses means deeply nested encoding.
	return domain.TruncateName(strings.NewReplacer("<", "", ">", "").Replace(v))
}

// toDomain converts a repository.User to domain.User. A configured admin
// email elevates the account whatever its stored role.
func (s *identityService) toDomain(u repository.User) *domain.User {
	role := domain.Role(u.Role)
	if !role.Valid() {
		role = domain.RoleSubscriber
	}
	if s.adminEmails[strings.ToLower(u.Email)] {
		role = domain.RoleAdministrator
	}
	return &domain.User{
		ID:           u.ID,
		Login:        u.Login,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FirstName:    domain.NullStringValue(u.FirstName),
		LastName:     domain.NullStringValue(u.LastName),
		Role:         role,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// normalizeSessionDuration applies the default and clamps to the bounds.
// maxStripPasses bounds stripMarkup. Each level of entity encoding costs one
// pass.
const maxStripPasses = 8

func normalizeSessionDuration(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultSessionDuration
	case d < MinSessionDuration:
		return MinSessionDuration
	case d > MaxSessionDuration:
		return MaxSessionDuration
	default:
		return d
	}
}

// generateSessionToken returns 32 random bytes hex-encoded to 64 characters.
func generateSessionToken() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashSessionToken returns the SHA-256 of a session token. Tokens are high
// entropy, so a fast hash is enough.
func hashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func generatePassword() (string, error) {
	b := make([]byte, generatedPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ flow.ResetKeyValidator = (*identityService)(nil)
