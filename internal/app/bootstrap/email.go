package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/agenda-platform/internal/config"
	"github.com/wolfman30/agenda-platform/internal/notify"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// BuildEmailSender picks SendGrid, then SES, then a logging stub. The second
// return names the choice for startup logs.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil && cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != "" {
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger), "sendgrid"
	}
	if cfg != nil && awsCfg != nil && cfg.SESFromEmail != "" {
		client := sesv2.NewFromConfig(*awsCfg)
		if sender := notify.NewSESSender(client, notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigSet,
		}, logger); sender != nil {
			return sender, "ses"
		}
	}
	return notify.NewStubEmailSender(logger), "stub"
}
