package mailtransport

import (
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-xray-sdk-go/xray"

	"github.com/postwhite/postwhite/lalog"
)

// SESTransport delivers messages through Amazon SES's raw-message API, an
// optional alternative to a fixed SMTP relay for deployments already living
// in AWS (grounded on the teacher's S3 client construction, substituting SES
// for S3 and reusing the same xray.AWS(client) call-tracing pattern).
type SESTransport struct {
	client *ses.SES
	logger lalog.Logger
}

// NewSESTransport builds a SESTransport for the AWS region named by the
// AWS_REGION environment variable.
func NewSESTransport(logger lalog.Logger) (*SESTransport, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		return nil, fmt.Errorf("mailtransport: AWS_REGION must be set to use the SES transport")
	}
	apiSession, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("mailtransport: failed to create AWS session: %w", err)
	}
	client := ses.New(apiSession)
	xray.AWS(client.Client)
	return &SESTransport{client: client, logger: logger}, nil
}

// Send submits message as a raw SES email. SES re-derives From/Rcpt from
// the message headers, so recipients is passed through as the destination
// list explicitly to avoid relying on header parsing on SES's side.
func (t *SESTransport) Send(from string, recipients []string, message []byte) error {
	start := time.Now()
	destinations := make([]*string, len(recipients))
	for i, r := range recipients {
		destinations[i] = aws.String(r)
	}
	_, err := t.client.SendRawEmail(&ses.SendRawEmailInput{
		Source:       aws.String(from),
		Destinations: destinations,
		RawMessage:   &ses.RawMessage{Data: message},
	})
	t.logger.Info("Send", from, err, "SendRawEmail to %v completed in %s", recipients, time.Since(start))
	return err
}
