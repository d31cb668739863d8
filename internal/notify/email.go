package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/hitoshi/rentwatch/internal/model"
)

// SESAPI はSESクライアントのうち使用するメソッド。
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailSender はSESでHTMLメールを送信する。
type EmailSender struct {
	client SESAPI
	from   string
}

// NewEmailSender はEmailSenderを生成する。
func NewEmailSender(client SESAPI, from string) *EmailSender {
	return &EmailSender{client: client, from: from}
}

func (s *EmailSender) Channel() model.Channel { return model.ChannelEmail }

// Send はメールを送信し、SESのメッセージIDを返す。
func (s *EmailSender) Send(ctx context.Context, contact *model.UserContact, content Content) (string, error) {
	if contact.Email == "" {
		return "", errors.New("no email address registered")
	}

	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{contact.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(content.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(content.HTML), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(content.Text), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		return "", fmt.Errorf("ses send email: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
