package billing

import (
	"context"
	"fmt"
	"html"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/CopyFox/internal/pkg/mail"
)

// Notification is sent after a reconciliation has been committed.
type Notification struct {
	UserID         uint
	Email          string
	Kind           EventKind
	Provider       string
	EventID        uint
	SubscriptionID uint
	PreviousRole   entitlements.Role
	CurrentRole    entitlements.Role
}

// RoleChanged reports whether the reconciliation moved the user's role.
func (n Notification) RoleChanged() bool {
	return n.PreviousRole != n.CurrentRole
}

// Notifier receives post-commit notifications. Errors are logged by the
// engine and never undo the reconciliation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	if n.RoleChanged() {
		log.Infof("[Notify] User %d role %s -> %s after %s (event %d)", n.UserID, n.PreviousRole, n.CurrentRole, n.Kind, n.EventID)
		return nil
	}
	log.Debugf("[Notify] User %d %s (event %d), role unchanged (%s)", n.UserID, n.Kind, n.EventID, n.CurrentRole)
	return nil
}

// UserLookup finds the mail recipient for a notification.
type UserLookup interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// MailNotifier mails users about role changes and upcoming trial ends.
type MailNotifier struct {
	Users UserLookup
	Send  func(to, subject, body string) error
}

// NewMailNotifier sends through the SMTP mailer.
func NewMailNotifier(users UserLookup) *MailNotifier {
	return &MailNotifier{Users: users, Send: mail.SendMail}
}

func (m *MailNotifier) Notify(ctx context.Context, n Notification) error {
	if !n.RoleChanged() && n.Kind != KindTrialWillEnd && n.Kind != KindInvoicePaymentFailed {
		return nil
	}
	to := n.Email
	if to == "" && m.Users != nil {
		user, err := m.Users.GetByID(ctx, n.UserID)
		if err != nil {
			return err
		}
		if user != nil {
			to = user.Email
		}
	}
	if to == "" {
		return nil
	}

	subject, body := renderNotification(n)
	return m.Send(to, subject, body)
}

func renderNotification(n Notification) (string, string) {
	switch {
	case n.RoleChanged():
		return "Your CopyFox plan changed",
			fmt.Sprintf("<p>Your plan is now <strong>%s</strong> (was %s).</p>",
				html.EscapeString(string(n.CurrentRole)), html.EscapeString(string(n.PreviousRole)))
	case n.Kind == KindTrialWillEnd:
		return "Your CopyFox trial ends soon",
			"<p>Your trial ends in a few days. Add a payment method to keep your plan.</p>"
	default:
		return "CopyFox payment failed",
			"<p>We could not charge your payment method. Please update it to keep your plan.</p>"
	}
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var firstErr error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
