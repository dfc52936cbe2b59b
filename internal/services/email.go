package services

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"imovia/internal/repo"
	"imovia/pkg/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/rs/zerolog"
)

// EmailService sends operational emails: viewing confirmations to agents and
// dead-letter alerts to admins. SES when AWS credentials are configured,
// SMTP otherwise.
type EmailService struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string

	sesClient *ses.SES
	useSES    bool

	users  *repo.UserRepository
	logger zerolog.Logger
}

// NewEmailService creates an email service. Returns an error when neither SES
// nor SMTP is configured; callers may treat that as "email disabled".
func NewEmailService(users *repo.UserRepository, logger zerolog.Logger) (*EmailService, error) {
	svc := &EmailService{users: users, logger: logger}

	awsRegion := os.Getenv("AWS_REGION")
	awsAccessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	awsSecretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	sesFromEmail := os.Getenv("SES_FROM_EMAIL")

	if awsRegion != "" && awsAccessKey != "" && awsSecretKey != "" && sesFromEmail != "" {
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(awsRegion),
			Credentials: credentials.NewStaticCredentials(awsAccessKey, awsSecretKey, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		svc.sesClient = ses.New(sess)
		svc.fromEmail = sesFromEmail
		svc.useSES = true
		logger.Info().Str("region", awsRegion).Msg("email service using SES")
		return svc, nil
	}

	svc.smtpHost = os.Getenv("SMTP_HOST")
	svc.smtpPort = os.Getenv("SMTP_PORT")
	svc.smtpUser = os.Getenv("SMTP_USER")
	svc.smtpPassword = os.Getenv("SMTP_PASSWORD")
	svc.fromEmail = os.Getenv("FROM_EMAIL")

	if svc.smtpHost == "" || svc.smtpPort == "" || svc.smtpUser == "" || svc.smtpPassword == "" || svc.fromEmail == "" {
		return nil, fmt.Errorf("email service not configured: set AWS SES credentials (AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, SES_FROM_EMAIL) or SMTP credentials (SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASSWORD, FROM_EMAIL)")
	}

	logger.Info().Str("host", svc.smtpHost).Msg("email service using SMTP")
	return svc, nil
}

// SendViewingConfirmation notifies the owning agent about a booked or moved
// viewing
func (s *EmailService) SendViewingConfirmation(ctx context.Context, v *models.ScheduledViewing) error {
	agent, err := s.users.GetByID(v.AgentID)
	if err != nil {
		return fmt.Errorf("lookup agent for viewing confirmation: %w", err)
	}
	if agent.Email == "" {
		return nil
	}

	property := "imóvel"
	if v.Property != nil {
		property = fmt.Sprintf("%s (%s)", v.Property.Title, v.Property.Address)
	}

	subject := "Visita agendada: " + v.ScheduledTime.Format("02/01/2006 15:04")
	body := fmt.Sprintf(`<h2>Visita agendada</h2>
<p>Olá %s,</p>
<p>Uma visita foi agendada para <strong>%s</strong>.</p>
<ul>
<li>Imóvel: %s</li>
<li>Cliente: %s</li>
<li>Duração: %d minutos</li>
</ul>`,
		agent.Name,
		v.ScheduledTime.Format("02/01/2006 às 15:04"),
		property,
		v.CustomerAddress,
		v.DurationMinutes)

	return s.sendEmail([]string{agent.Email}, subject, body)
}

// SendDeadLetterAlert notifies admins that messages are piling up in the
// dead-letter store
func (s *EmailService) SendDeadLetterAlert(ctx context.Context, count int64) error {
	admins, err := s.users.ListAdminEmails()
	if err != nil {
		return fmt.Errorf("lookup admin emails: %w", err)
	}
	if len(admins) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Alerta: %d mensagens na fila de descarte", count)
	body := fmt.Sprintf(`<h2>Mensagens não processadas</h2>
<p>Há <strong>%d</strong> mensagens aguardando na fila de descarte.</p>
<p>Revise e reprocesse pelo painel administrativo.</p>`, count)

	return s.sendEmail(admins, subject, body)
}

func (s *EmailService) sendEmail(to []string, subject, body string) error {
	if s.useSES {
		return s.sendWithSES(to, subject, body)
	}
	return s.sendWithSMTP(to, subject, body)
}

func (s *EmailService) sendWithSES(to []string, subject, body string) error {
	var toAddresses []*string
	for _, addr := range to {
		toAddresses = append(toAddresses, aws.String(addr))
	}

	input := &ses.SendEmailInput{
		Destination: &ses.Destination{ToAddresses: toAddresses},
		Message: &ses.Message{
			Body: &ses.Body{
				Html: &ses.Content{
					Charset: aws.String("UTF-8"),
					Data:    aws.String(body),
				},
			},
			Subject: &ses.Content{
				Charset: aws.String("UTF-8"),
				Data:    aws.String(subject),
			},
		},
		Source: aws.String(s.fromEmail),
	}

	if _, err := s.sesClient.SendEmail(input); err != nil {
		s.logger.Error().Err(err).Strs("to", to).Msg("SES send failed")
		return fmt.Errorf("failed to send email via SES: %w", err)
	}
	return nil
}

func (s *EmailService) sendWithSMTP(to []string, subject, body string) error {
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.fromEmail, strings.Join(to, ", "), subject, body)

	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)
	addr := s.smtpHost + ":" + s.smtpPort

	if err := smtp.SendMail(addr, auth, s.fromEmail, to, []byte(message)); err != nil {
		s.logger.Error().Err(err).Strs("to", to).Msg("SMTP send failed")
		return fmt.Errorf("failed to send email via SMTP: %w", err)
	}
	return nil
}
