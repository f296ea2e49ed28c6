// internal/notify/notifier.go

// Package notify publishes finalized loan decisions. Delivery is best
// effort: the decision is already committed when a notification goes out.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"loan-engine/internal/common/config"
	"loan-engine/internal/common/logger"
	"loan-engine/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Interfaces for mocking the AWS clients in tests.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Notifier struct {
	config config.NotificationConfig
	ses    SESService
	sns    SNSService
	logger logger.Logger
}

func New(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*Notifier, error) {
	n := &Notifier{
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"component": "notify"}),
	}
	if !cfg.Enabled {
		return n, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	n.ses = ses.NewFromConfig(awsCfg)
	n.sns = sns.NewFromConfig(awsCfg)
	return n, nil
}

// NewWithClients wires explicit clients; used by tests.
func NewWithClients(cfg config.NotificationConfig, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{
		config: cfg,
		ses:    sesClient,
		sns:    snsClient,
		logger: log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// DecisionFinalized publishes the outcome of one run to SNS and, when
// configured, emails a summary over SES.
func (n *Notifier) DecisionFinalized(ctx context.Context, loan *models.LoanApplication, outcome *models.LoanOutcome) {
	if !n.config.Enabled {
		return
	}

	if n.sns != nil && n.config.TopicARN != "" {
		if err := n.publishSNS(ctx, loan, outcome); err != nil {
			n.logger.Error("SNS publish failed", map[string]interface{}{
				"loanId": loan.ID,
				"error":  err.Error(),
			})
		}
	}

	if n.ses != nil && n.config.EmailEnabled && len(n.config.EmailTo) > 0 {
		if err := n.sendEmail(ctx, loan, outcome); err != nil {
			n.logger.Error("SES send failed", map[string]interface{}{
				"loanId": loan.ID,
				"error":  err.Error(),
			})
		}
	}
}

func (n *Notifier) publishSNS(ctx context.Context, loan *models.LoanApplication, outcome *models.LoanOutcome) error {
	payload, err := json.Marshal(map[string]interface{}{
		"loanId":     loan.ID,
		"company":    loan.CompanyName,
		"decision":   outcome.Decision,
		"finalScore": outcome.FinalScore,
		"confidence": outcome.Confidence,
		"veto":       outcome.ComplianceVeto,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.config.TopicARN),
		Subject:  aws.String(fmt.Sprintf("Loan decision: %s", outcome.Decision)),
		Message:  aws.String(string(payload)),
	})
	return err
}

func (n *Notifier) sendEmail(ctx context.Context, loan *models.LoanApplication, outcome *models.LoanOutcome) error {
	body := fmt.Sprintf(
		"Loan application %s (%s) was %s.\nFinal score: %.2f\nConfidence: %.2f\n",
		loan.ID, loan.CompanyName, outcome.Decision, outcome.FinalScore, outcome.Confidence,
	)
	if outcome.ComplianceVeto {
		body += "The application was rejected by compliance veto.\n"
	}

	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(n.config.EmailFrom),
		Destination: &sestypes.Destination{
			ToAddresses: n.config.EmailTo,
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{
				Data: aws.String(fmt.Sprintf("Loan decision for %s: %s", loan.CompanyName, outcome.Decision)),
			},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
	})
	return err
}
