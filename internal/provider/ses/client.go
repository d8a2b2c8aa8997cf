// Package ses dispatches email through AWS SES v2 for the email-ses method.
package ses

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/morpheus/internal/config"
)

// Client is an AWS SES v2 sending client.
type Client struct {
	client *sesv2.Client
	region string
}

// NewClient creates an SES client with static credentials from config.
func NewClient(ctx context.Context, cfg appconfig.SESConfig) (*Client, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Client{client: sesv2.NewFromConfig(awsCfg), region: cfg.Region}, nil
}

// Email is one outbound message.
type Email struct {
	FromAddress string // "Name <email>" form accepted
	ToAddress   string
	Subject     string
	HTMLBody    string
	Headers     map[string]string
}

// Send submits the email and returns the SES message id. SES Simple content
// carries no attachments; callers with attachments are expected to use the
// Mandrill method.
func (c *Client) Send(ctx context.Context, email Email) (string, error) {
	var headers []types.MessageHeader
	for name, value := range email.Headers {
		headers = append(headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	out, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(email.FromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email.ToAddress},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(email.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(email.HTMLBody)},
				},
				Headers: headers,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send to %s: %w", email.ToAddress, err)
	}

	id := aws.ToString(out.MessageId)
	if id == "" {
		log.Printf("[SES] send accepted without message id (region %s)", c.region)
	}
	return id, nil
}
