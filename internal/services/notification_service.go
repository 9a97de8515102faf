// internal/services/notification_service.go
package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/homeplate/homeplate-backend/internal/config"
	"github.com/homeplate/homeplate-backend/internal/models"
)

// NotificationService is the collaborator informed of every state
// transition. Events are persisted and, when the transaction carries a
// contact address, mirrored by email. Dispatch is fire-and-forget: a failed
// notification never blocks or reverts a transition.
type NotificationService struct {
	db     *gorm.DB
	config *config.Config
}

type emailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(db *gorm.DB, config *config.Config) *NotificationService {
	return &NotificationService{
		db:     db,
		config: config,
	}
}

func (s *NotificationService) NotifyTransition(event TransitionEvent) {
	notification := &models.TransitionNotification{
		TransactionID: event.TransactionID,
		OldState:      event.OldState,
		NewState:      event.NewState,
		OccurredAt:    event.Timestamp,
	}

	var transaction models.Transaction
	if err := s.db.First(&transaction, "id = ?", event.TransactionID).Error; err != nil {
		logrus.WithError(err).WithField("transaction_id", event.TransactionID).
			Error("Failed to load transaction for notification")
		return
	}

	if transaction.ContactEmail != "" {
		if err := s.sendTransitionEmail(&transaction, event); err != nil {
			logrus.WithError(err).WithField("transaction_id", event.TransactionID).
				Warn("Failed to send transition email")
		} else {
			notification.EmailedTo = transaction.ContactEmail
		}
	}

	if err := s.db.Create(notification).Error; err != nil {
		logrus.WithError(err).WithField("transaction_id", event.TransactionID).
			Error("Failed to persist transition notification")
	}
}

func (s *NotificationService) sendTransitionEmail(transaction *models.Transaction, event TransitionEvent) error {
	tmpl := s.getEmailTemplate(event.NewState)

	data := map[string]interface{}{
		"TransactionID": transaction.ID,
		"OldState":      event.OldState,
		"NewState":      event.NewState,
		"HoldAmount":    transaction.HoldAmount,
		"OccurredAt":    event.Timestamp.Format("Jan 2, 2006 15:04 MST"),
	}

	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return s.sendEmail(transaction.ContactEmail, tmpl.Subject, body)
}

// Helper methods
func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPHost == "" {
		// Email not configured, just log
		logrus.WithFields(logrus.Fields{"to": to, "subject": subject}).
			Info("Email dispatch skipped (SMTP not configured)")
		return nil
	}

	// Setup authentication
	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	// Compose message
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s", to, subject, body))

	// Send email
	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	return smtp.SendMail(addr, auth, s.config.Email.FromEmail, []string{to}, msg)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(state models.TransactionState) emailTemplate {
	templates := map[models.TransactionState]emailTemplate{
		models.StateSettled: {
			Subject: "Your meal is settled",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>All done!</h2>
	<p>Transaction {{.TransactionID}} has settled. ${{printf "%.2f" .HoldAmount}} has been released to the host.</p>
	<p>Thanks for dining with HomePlate.</p>
</body>
</html>`,
		},
		models.StateExpired: {
			Subject: "Your reservation expired",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Reservation expired</h2>
	<p>No arrival was confirmed for transaction {{.TransactionID}} before the deadline.</p>
	<p>The full hold of ${{printf "%.2f" .HoldAmount}} has been returned to the payer.</p>
</body>
</html>`,
		},
		models.StateDisputed: {
			Subject: "A dispute was opened",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Dispute opened</h2>
	<p>Transaction {{.TransactionID}} is under review. The hold is frozen until resolution.</p>
</body>
</html>`,
		},
		models.StateCancelled: {
			Subject: "Your reservation was cancelled",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Reservation cancelled</h2>
	<p>Transaction {{.TransactionID}} was cancelled and the hold fully reversed.</p>
</body>
</html>`,
		},
	}

	if tmpl, exists := templates[state]; exists {
		return tmpl
	}

	// Default template
	return emailTemplate{
		Subject: "Reservation update",
		Body:    `<p>Transaction {{.TransactionID}} moved from {{.OldState}} to {{.NewState}} at {{.OccurredAt}}.</p>`,
	}
}
