package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/rhoward/ztverify/pkg/logger"
)

// EmailService delivers one-time codes. Implementations signal only
// success or failure; issuance is rolled back on failure.
type EmailService interface {
	SendOtpEmail(ctx context.Context, email, code, username string, expiresAt time.Time) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	fromName    string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, fromName string, log *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		fromName:    fromName,
		logger:      log,
	}, nil
}

// SendOtpEmail delivers the verification code for a challenged login.
func (s *AWSSESEmailService) SendOtpEmail(ctx context.Context, email, code, username string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 20px; background-color: #f8f9fa; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Verify Your Sign-In</h1>
        </div>
        <p>Hi %s,</p>
        <p>A sign-in to your account needs additional verification. Enter this code to continue:</p>
        <div class="code">%s</div>
        <div class="warning">
            <strong>Security Notice:</strong> This code will expire in %d minutes and can only be used once.
        </div>
        <p><strong>Didn't try to sign in?</strong><br>
        Someone may have your password. Do not share this code with anyone, and change your password immediately.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, username, code, minutes)

	textBody := fmt.Sprintf(`Verify Your Sign-In

Hi %s,

A sign-in to your account needs additional verification. Enter this code to continue:

%s

Security Notice: This code will expire in %d minutes and can only be used once.

Didn't try to sign in?
Someone may have your password. Do not share this code with anyone, and change your password immediately.

This is an automated message. Please do not reply to this email.
`, username, code, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your verification code"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send OTP email via SES",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("OTP email sent",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("message_id", *result.MessageId))

	return nil
}
