package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/hitoshi/rentwatch/internal/model"
)

// e164Pattern はE.164形式の電話番号（+と最大15桁）。
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// SNSAPI はSNSクライアントのうち使用するメソッド。
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSSender はSNSでSMSを送信する。
type SMSSender struct {
	client   SNSAPI
	senderID string
}

// NewSMSSender はSMSSenderを生成する。senderIDが空の場合は送信者IDを指定しない。
func NewSMSSender(client SNSAPI, senderID string) *SMSSender {
	return &SMSSender{client: client, senderID: senderID}
}

func (s *SMSSender) Channel() model.Channel { return model.ChannelSMS }

// Send はE.164形式の電話番号へSMSを送信する。
func (s *SMSSender) Send(ctx context.Context, contact *model.UserContact, content Content) (string, error) {
	if !e164Pattern.MatchString(contact.Phone) {
		return "", fmt.Errorf("phone number is not E.164: %q", contact.Phone)
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s.senderID)}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(contact.Phone),
		Message:           aws.String(content.Text),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("sns publish sms: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// PushSender はSNSのプラットフォームエンドポイントへプッシュ通知を送信する。
type PushSender struct {
	client SNSAPI
}

// NewPushSender はPushSenderを生成する。
func NewPushSender(client SNSAPI) *PushSender {
	return &PushSender{client: client}
}

func (s *PushSender) Channel() model.Channel { return model.ChannelPush }

// Send はデバイスのエンドポイントARNへpayload付きのメッセージを送信する。
// GCM(FCM)とAPNSの両方に同じpayloadを載せる。
func (s *PushSender) Send(ctx context.Context, contact *model.UserContact, content Content) (string, error) {
	if err := validateEndpointARN(contact.DeviceToken); err != nil {
		return "", err
	}

	message, err := pushMessage(content)
	if err != nil {
		return "", err
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(contact.DeviceToken),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return "", fmt.Errorf("sns publish push: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func validateEndpointARN(token string) error {
	if token == "" {
		return errors.New("no device endpoint registered")
	}
	if !arn.IsARN(token) {
		return fmt.Errorf("device token is not an ARN: %q", token)
	}
	a, err := arn.Parse(token)
	if err != nil {
		return fmt.Errorf("invalid endpoint ARN: %w", err)
	}
	if a.Service != "sns" {
		return fmt.Errorf("endpoint ARN is not an SNS resource: %s", a.Service)
	}
	return nil
}

// pushMessage はMessageStructure=json用のプラットフォーム別メッセージを組み立てる。
func pushMessage(content Content) (string, error) {
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{"title": content.Subject, "body": content.Text},
		"data":         content.Push,
	})
	if err != nil {
		return "", err
	}
	apns, err := json.Marshal(map[string]any{
		"aps":         map[string]any{"alert": map[string]string{"title": content.Subject, "body": content.Text}},
		"propertyId":  content.Push.PropertyID,
		"deepLinkUrl": content.Push.DeepLinkURL,
	})
	if err != nil {
		return "", err
	}

	msg, err := json.Marshal(map[string]string{
		"default":      content.Subject,
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(msg), nil
}
