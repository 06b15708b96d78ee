package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/DukeRupert/brandedflow/internal/email"
	"github.com/DukeRupert/brandedflow/internal/flow"
	"github.com/DukeRupert/brandedflow/internal/metrics"
	"github.com/DukeRupert/brandedflow/internal/repository"
)

// AccountNotifier announces a freshly created account.
type AccountNotifier interface {
	// NotifyAccountCreated issues a set-password key, mails the link to the
	// user, and mails every administrator. Failures are logged and returned
	// but never undo the account. A key whose mail failed is revoked; the
	// user can still request one from the lost-password page.
	NotifyAccountCreated(ctx context.Context, user *domain.User) error
}

type accountNotifier struct {
	queries     *repository.Queries
	keys        ResetKeyStore
	mailer      email.EmailService
	adminEmails []string
	authURL     string
	logger      *slog.Logger
}

// NewAccountNotifier creates the notifier. adminEmails are always notified in
// addition to accounts stored with the administrator role.
func NewAccountNotifier(
	queries *repository.Queries,
	keys ResetKeyStore,
	mailer email.EmailService,
	adminEmails []string,
	authURL string,
	logger *slog.Logger,
) AccountNotifier {
	return &accountNotifier{
		queries:     queries,
		keys:        keys,
		mailer:      mailer,
		adminEmails: adminEmails,
		authURL:     authURL,
		logger:      logger,
	}
}

func (n *accountNotifier) NotifyAccountCreated(ctx context.Context, user *domain.User) error {
	const op = "AccountNotifier.NotifyAccountCreated"

	issued, err := n.keys.Issue(ctx, user.ID.String(), user.Login)
	if err != nil {
		n.logger.Error("failed to issue set-password key", "user_id", user.ID, "error", err)
		return domain.Internal(err, op, "Failed to issue set-password key")
	}
	metrics.ResetKeyEvent("issued")

	link := flow.ResetLink(n.authURL, issued.Key, user.Login)
	userErr := n.mailer.SendAccountCreatedEmail(ctx, user.Email, user.DisplayName(), user.Login, link)
	metrics.EmailAttempted("account_created", userErr)

	for _, admin := range n.recipients(ctx) {
		err := n.mailer.SendAdminNewUserEmail(ctx, admin, user.Login, user.Email)
		metrics.EmailAttempted("admin_new_user", err)
		if err != nil {
			n.logger.Warn("failed to notify admin of new user", "admin", admin, "user_id", user.ID, "error", err)
		}
	}

	if userErr != nil {
		if err := n.keys.Revoke(ctx, user.Login); err != nil {
			n.logger.Warn("failed to revoke undelivered set-password key", "user_id", user.ID, "error", err)
		}
		return domain.Internal(userErr, op, "Failed to send account email")
	}
	return nil
}

// recipients merges configured and stored administrator addresses, without
// duplicates, keeping the configured ones first.
func (n *accountNotifier) recipients(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		key := strings.ToLower(strings.TrimSpace(addr))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(addr))
	}

	for _, a := range n.adminEmails {
		add(a)
	}

	stored, err := n.queries.ListEmailsByRole(ctx, string(domain.RoleAdministrator))
	if err != nil {
		n.logger.Warn("failed to list administrator emails", "error", err)
	}
	for _, a := range stored {
		add(a)
	}
	return out
}
