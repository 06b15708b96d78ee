package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/DukeRupert/brandedflow/internal/repository"
	"github.com/DukeRupert/brandedflow/internal/resetkey"
)

// =============================================================================
// Test helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentEmail struct {
	Kind string
	To   string
	Name string
	Link string
}

// mockMailer records every email and returns Err for the kinds listed in
// FailKinds.
type mockMailer struct {
	Sent      []sentEmail
	FailKinds map[string]error
}

func (m *mockMailer) record(kind, to, name, link string) error {
	m.Sent = append(m.Sent, sentEmail{Kind: kind, To: to, Name: name, Link: link})
	if err, ok := m.FailKinds[kind]; ok {
		return err
	}
	return nil
}

func (m *mockMailer) SendPasswordResetEmail(ctx context.Context, to, name, resetURL string) error {
	return m.record("password_reset", to, name, resetURL)
}

func (m *mockMailer) SendAccountCreatedEmail(ctx context.Context, to, name, login, setPasswordURL string) error {
	return m.record("account_created", to, name, setPasswordURL)
}

func (m *mockMailer) SendAdminNewUserEmail(ctx context.Context, to, newLogin, newEmail string) error {
	return m.record("admin_new_user", to, newLogin, "")
}

type testDeps struct {
	svc    *identityService
	mock   sqlmock.Sqlmock
	keys   *resetkey.Store
	mr     *miniredis.Miniredis
	mailer *mockMailer
}

func newTestIdentity(t *testing.T, opts ...resetkey.Option) *testDeps {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	keys := resetkey.New(client, opts...)
	mailer := &mockMailer{}

	svc := NewIdentityService(repository.New(db), keys, mailer, IdentityConfig{
		SessionDuration: time.Hour,
		AdminEmails:     []string{"Boss@Example.com"},
		AuthURL:         "https://example.com/auth",
	}, newTestLogger()).(*identityService)

	return &testDeps{svc: svc, mock: mock, keys: keys, mr: mr, mailer: mailer}
}

var userColumns = []string{"id", "login", "email", "password_hash", "first_name", "last_name", "role", "created_at", "updated_at"}

type testUser struct {
	ID       uuid.UUID
	Login    string
	Email    string
	Password string
	Role     string
}

func (u testUser) rows(t *testing.T) *sqlmock.Rows {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
	require.NoError(t, err)
	role := u.Role
	if role == "" {
		role = "subscriber"
	}
	now := time.Now()
	return sqlmock.NewRows(userColumns).
		AddRow(u.ID.String(), u.Login, u.Email, string(hash), "Ann", "Lee", role, now, now)
}

func alice() testUser {
	return testUser{ID: uuid.New(), Login: "alice@example.com", Email: "alice@example.com", Password: "s3cret"}
}

// =============================================================================
// VerifyCredentials
// =============================================================================

func TestVerifyCredentials_EmptyFields(t *testing.T) {
	d := newTestIdentity(t)

	tests := []struct {
		name      string
		login     string
		password  string
		wantCodes []string
	}{
		{"both empty", "", "", []string{domain.CodeEmptyUsername, domain.CodeEmptyPassword}},
		{"blank login", "   ", "pw", []string{domain.CodeEmptyUsername}},
		{"empty password", "alice", "", []string{domain.CodeEmptyPassword}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.svc.VerifyCredentials(context.Background(), tt.login, tt.password)
			require.Error(t, err)
			assert.Equal(t, tt.wantCodes, domain.FlowCodes(err))
		})
	}
	assert.NoError(t, d.mock.ExpectationsWereMet(), "empty fields never reach the database")
}

func TestVerifyCredentials_UnknownLogin(t *testing.T) {
	d := newTestIdentity(t)

	d.mock.ExpectQuery(`WHERE lower\(login\)`).WithArgs("bob").WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := d.svc.VerifyCredentials(context.Background(), "bob", "pw")
	assert.Equal(t, []string{domain.CodeInvalidUsername}, domain.FlowCodes(err))
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

func TestVerifyCredentials_UnknownEmailFallsBackToLogin(t *testing.T) {
	d := newTestIdentity(t)

	d.mock.ExpectQuery(`WHERE lower\(email\)`).WithArgs("x@example.com").WillReturnRows(sqlmock.NewRows(userColumns))
	d.mock.ExpectQuery(`WHERE lower\(login\)`).WithArgs("x@example.com").WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := d.svc.VerifyCredentials(context.Background(), "x@example.com", "pw")
	assert.Equal(t, []string{domain.CodeInvalidUsername}, domain.FlowCodes(err))
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

func TestVerifyCredentials_IncorrectPassword(t *testing.T) {
	d := newTestIdentity(t)
	u := alice()

	d.mock.ExpectQuery(`WHERE lower\(email\)`).WithArgs(u.Email).WillReturnRows(u.rows(t))

	_, err := d.svc.VerifyCredentials(context.Background(), u.Email, "wrong")
	assert.Equal(t, []string{domain.CodeIncorrectPassword}, domain.FlowCodes(err))
}

func TestVerifyCredentials_Success(t *testing.T) {
	d := newTestIdentity(t)
	u := alice()

	d.mock.ExpectQuery(`WHERE lower\(email\)`).WithArgs(u.Email).WillReturnRows(u.rows(t))

	user, err := d.svc.VerifyCredentials(context.Background(), u.Email, u.Password)
	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)
	assert.Equal(t, "Ann", user.FirstName)
	assert.False(t, user.IsElevated())
}

func TestVerifyCredentials_ConfiguredAdminIsElevated(t *testing.T) {
	d := newTestIdentity(t)
	u := testUser{ID: uuid.New(), Login: "boss", Email: "boss@example.com", Password: "pw"}

	d.mock.ExpectQuery(`WHERE lower\(login\)`).WithArgs("boss").WillReturnRows(u.rows(t))

	user, err := d.svc.VerifyCredentials(context.Background(), "boss", "pw")
	require.NoError(t, err)
	assert.True(t, user.IsElevated())
}

func TestVerifyCredentials_DatabaseError(t *testing.T) {
	d := newTestIdentity(t)

	d.mock.ExpectQuery(`WHERE lower\(login\)`).WillReturnError(errors.New("connection reset"))

	_, err := d.svc.VerifyCredentials(context.Background(), "bob", "pw")
	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}

// =============================================================================
// Sessions
// =============================================================================

func TestStartSessionAndResolve(t *testing.T) {
	d := newTestIdentity(t)
	u := alice()

	d.mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs(u.ID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "created_at"}).
			AddRow(uuid.New().String(), u.ID.String(), "h", time.Now().Add(time.Hour), time.Now()))

	token, err := d.svc.StartSession(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	d.mock.ExpectQuery(`FROM sessions`).
		WithArgs(hashSessionToken(token)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "created_at"}).
			AddRow(uuid.New().String(), u.ID.String(), hashSessionToken(token), time.Now().Add(time.Hour), time.Now()))
	d.mock.ExpectQuery(`WHERE id = \$1`).WithArgs(u.ID).WillReturnRows(u.rows(t))

	user, err := d.svc.GetBySessionToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)
	assert.Empty(t, user.PasswordHash)
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

func TestGetBySessionToken_Malformed(t *testing.T) {
	d := newTestIdentity(t)

	for _, tok := range []string{"", "abc", strings.Repeat("a", 100)} {
		_, err := d.svc.GetBySessionToken(context.Background(), tok)
		assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
	}
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

func TestLogout_Idempotent(t *testing.T) {
	d := newTestIdentity(t)
	token := strings.Repeat("a", 64)

	d.mock.ExpectExec(`DELETE FROM sessions WHERE token_hash`).
		WithArgs(hashSessionToken(token)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, d.svc.Logout(context.Background(), token))
	assert.NoError(t, d.svc.Logout(context.Background(), "short"))
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

// =============================================================================
// Registration
// =============================================================================

func TestCreateAccount_StripsMarkup(t *testing.T) {
	d := newTestIdentity(t)
	id := uuid.New()
	now := time.Now()

	d.mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("new@example.com", "new@example.com", sqlmock.AnyArg(), "Ann & Co", nil, "subscriber").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(id.String(), "new@example.com", "new@example.com", "hash", "Ann & Co", nil, "subscriber", now, now))

	user, err := d.svc.CreateAccount(context.Background(), domain.NewAccountParams{
		Email:     " new@example.com ",
		FirstName: "<script>alert(1)</script><b>Ann &amp; Co</b>",
		LastName:  "<i></i>",
	})
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Empty(t, user.PasswordHash)
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

func TestCreateAccount_EntityEncodedMarkupNeverStored(t *testing.T) {
	d := newTestIdentity(t)
	id := uuid.New()
	now := time.Now()

	d.mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("new@example.com", "new@example.com", sqlmock.AnyArg(), nil, "Lee", "subscriber").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(id.String(), "new@example.com", "new@example.com", "hash", nil, "Lee", "subscriber", now, now))

	_, err := d.svc.CreateAccount(context.Background(), domain.NewAccountParams{
		Email:     "new@example.com",
		FirstName: "&lt;script&gt;alert(1)&lt;/script&gt;",
		LastName:  "&amp;lt;b&amp;gt;Lee&amp;lt;/b&amp;gt;",
	})
	require.NoError(t, err)
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

func TestStripMarkup(t *testing.T) {
	d := newTestIdentity(t)

	tests := []struct {
		in   string
		want string
	}{
		{"Ann", "Ann"},
		{"  Ann  ", "Ann"},
		{"<b>Ann</b>", "Ann"},
		{"Ann &amp; Co", "Ann & Co"},
		{"Ann & Co", "Ann & Co"},
		{"a < b", "a < b"},
		{"&lt;script&gt;alert(1)&lt;/script&gt;", ""},
		{"&lt;img src=x onerror=alert(1)&gt;Ann", "Ann"},
		{"&#60;i&#62;Ann&#60;/i&#62;", "Ann"},
		{"&amp;lt;b&amp;gt;Ann&amp;lt;/b&amp;gt;", "Ann"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := d.svc.stripMarkup(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "<script")
		})
	}
}

func TestCreateAccount_UniqueViolationIsEmailExists(t *testing.T) {
	d := newTestIdentity(t)

	d.mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := d.svc.CreateAccount(context.Background(), domain.NewAccountParams{Email: "dup@example.com"})
	assert.Equal(t, []string{domain.CodeEmailExists}, domain.FlowCodes(err))
}

func TestEmailExists(t *testing.T) {
	d := newTestIdentity(t)

	d.mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("dup@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := d.svc.EmailExists(context.Background(), "dup@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

// =============================================================================
// Lost password / reset
// =============================================================================

func TestIssueResetToken_Failures(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		d := newTestIdentity(t)
		err := d.svc.IssueResetToken(context.Background(), "  ")
		assert.Equal(t, []string{domain.CodeEmptyUsername}, domain.FlowCodes(err))
	})

	t.Run("unknown email", func(t *testing.T) {
		d := newTestIdentity(t)
		d.mock.ExpectQuery(`WHERE lower\(email\)`).WillReturnRows(sqlmock.NewRows(userColumns))
		err := d.svc.IssueResetToken(context.Background(), "nobody@example.com")
		assert.Equal(t, []string{domain.CodeInvalidEmail}, domain.FlowCodes(err))
	})

	t.Run("unknown login", func(t *testing.T) {
		d := newTestIdentity(t)
		d.mock.ExpectQuery(`WHERE lower\(login\)`).WillReturnRows(sqlmock.NewRows(userColumns))
		err := d.svc.IssueResetToken(context.Background(), "nobody")
		assert.Equal(t, []string{domain.CodeInvalidCombo}, domain.FlowCodes(err))
	})

	t.Run("mail failure", func(t *testing.T) {
		d := newTestIdentity(t)
		u := alice()
		d.mailer.FailKinds = map[string]error{"password_reset": errors.New("smtp down")}
		d.mock.ExpectQuery(`WHERE lower\(email\)`).WillReturnRows(u.rows(t))

		err := d.svc.IssueResetToken(context.Background(), u.Email)
		assert.Equal(t, []string{domain.CodeResetEmailFailure}, domain.FlowCodes(err))

		require.Len(t, d.mailer.Sent, 1)
		link, err := url.Parse(d.mailer.Sent[0].Link)
		require.NoError(t, err)
		_, err = d.keys.Check(context.Background(), u.Login, link.Query().Get("key"))
		assert.ErrorIs(t, err, domain.ErrResetKeyInvalid, "an undelivered key is revoked")
	})
}

func issueKey(t *testing.T, d *testDeps, u testUser) string {
	t.Helper()
	d.mock.ExpectQuery(`WHERE lower\(email\)`).WithArgs(u.Email).WillReturnRows(u.rows(t))

	require.NoError(t, d.svc.IssueResetToken(context.Background(), u.Email))
	require.NotEmpty(t, d.mailer.Sent)

	link, err := url.Parse(d.mailer.Sent[len(d.mailer.Sent)-1].Link)
	require.NoError(t, err)
	return link.Query().Get("key")
}

func TestIssueResetToken_SendsPlatformLink(t *testing.T) {
	d := newTestIdentity(t)
	u := alice()

	key := issueKey(t, d, u)

	sent := d.mailer.Sent[0]
	assert.Equal(t, "password_reset", sent.Kind)
	assert.Equal(t, u.Email, sent.To)
	assert.Equal(t, "Ann Lee", sent.Name)

	link, _ := url.Parse(sent.Link)
	assert.Equal(t, "/auth", link.Path)
	assert.Equal(t, "rp", link.Query().Get("action"))
	assert.Equal(t, u.Login, link.Query().Get("login"))
	assert.Len(t, key, 64)
}

func TestValidateResetKey(t *testing.T) {
	d := newTestIdentity(t)
	u := alice()
	key := issueKey(t, d, u)

	d.mock.ExpectQuery(`WHERE id = \$1`).WithArgs(u.ID).WillReturnRows(u.rows(t))
	user, err := d.svc.ValidateResetKey(context.Background(), key, u.Login)
	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)

	_, err = d.svc.ValidateResetKey(context.Background(), "nope", u.Login)
	assert.ErrorIs(t, err, domain.ErrResetKeyInvalid)

	_, err = d.svc.ValidateResetKey(context.Background(), key, "someone-else")
	assert.ErrorIs(t, err, domain.ErrResetKeyInvalid)
}

func TestValidateResetKey_Expired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	d := newTestIdentity(t, resetkey.WithClock(func() time.Time { return clock() }))
	u := alice()
	key := issueKey(t, d, u)

	clock = func() time.Time { return now.Add(domain.PasswordResetKeyDuration + time.Minute) }

	_, err := d.svc.ValidateResetKey(context.Background(), key, u.Login)
	assert.ErrorIs(t, err, domain.ErrResetKeyExpired)
}

func TestCommitNewPassword(t *testing.T) {
	d := newTestIdentity(t)
	u := alice()
	key := issueKey(t, d, u)

	err := d.svc.CommitNewPassword(context.Background(), key, u.Login, "")
	assert.Equal(t, []string{domain.CodePasswordResetEmpty}, domain.FlowCodes(err))

	d.mock.ExpectQuery(`WHERE id = \$1`).WithArgs(u.ID).WillReturnRows(u.rows(t))
	d.mock.ExpectExec(`UPDATE users SET password_hash`).
		WithArgs(u.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	d.mock.ExpectExec(`DELETE FROM sessions WHERE user_id`).
		WithArgs(u.ID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, d.svc.CommitNewPassword(context.Background(), key, u.Login, "new-pass"))
	assert.NoError(t, d.mock.ExpectationsWereMet())

	err = d.svc.CommitNewPassword(context.Background(), key, u.Login, "again")
	assert.Equal(t, []string{domain.CodeInvalidKey}, domain.FlowCodes(err), "keys are single use")
}

func TestCommitNewPassword_Expired(t *testing.T) {
	now := time.Now()
	current := now
	d := newTestIdentity(t, resetkey.WithClock(func() time.Time { return current }))
	u := alice()
	key := issueKey(t, d, u)

	current = now.Add(domain.PasswordResetKeyDuration + time.Second)

	err := d.svc.CommitNewPassword(context.Background(), key, u.Login, "new-pass")
	assert.Equal(t, []string{domain.CodeExpiredKey}, domain.FlowCodes(err))
}

// =============================================================================
// Profile
// =============================================================================

func TestUpdateProfile(t *testing.T) {
	d := newTestIdentity(t)
	u := alice()

	d.mock.ExpectExec(`UPDATE users SET first_name`).
		WithArgs(u.ID, "Ann", "Lee").
		WillReturnResult(sqlmock.NewResult(0, 1))
	d.mock.ExpectQuery(`WHERE id = \$1`).WithArgs(u.ID).WillReturnRows(u.rows(t))

	user, err := d.svc.UpdateProfile(context.Background(), domain.ProfileUpdateParams{
		UserID:    u.ID,
		FirstName: "<b>Ann</b>",
		LastName:  "Lee",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann", user.FirstName)
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

func TestUpdateProfile_EntityEncodedMarkupNeverStored(t *testing.T) {
	d := newTestIdentity(t)
	u := alice()

	d.mock.ExpectExec(`UPDATE users SET first_name`).
		WithArgs(u.ID, "Ann", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	d.mock.ExpectQuery(`WHERE id = \$1`).WithArgs(u.ID).WillReturnRows(u.rows(t))

	_, err := d.svc.UpdateProfile(context.Background(), domain.ProfileUpdateParams{
		UserID:    u.ID,
		FirstName: "&lt;b&gt;Ann&lt;/b&gt;",
		LastName:  "&lt;script&gt;alert(1)&lt;/script&gt;",
	})
	require.NoError(t, err)
	assert.NoError(t, d.mock.ExpectationsWereMet())
}

func TestUpdateProfile_NotFound(t *testing.T) {
	d := newTestIdentity(t)

	d.mock.ExpectExec(`UPDATE users SET first_name`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := d.svc.UpdateProfile(context.Background(), domain.ProfileUpdateParams{UserID: uuid.New()})
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
