package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/rentwatch/internal/model"
)

const (
	// defaultTelegramEndpoint はTelegram Bot APIのベースURL。
	defaultTelegramEndpoint = "https://api.telegram.org"
	// maxResponseSize はAPIレスポンスの読み込み上限（1MB）。
	maxResponseSize = 1 << 20
)

// TelegramSender はTelegram Bot APIでチャットへメッセージを送信する。
type TelegramSender struct {
	httpClient *http.Client
	logger     *slog.Logger
	token      string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewTelegramSender はTelegramSenderを生成する。
func NewTelegramSender(httpClient *http.Client, token string, logger *slog.Logger) *TelegramSender {
	return &TelegramSender{
		httpClient: httpClient,
		logger:     logger,
		token:      token,
		endpoint:   defaultTelegramEndpoint,
	}
}

func (s *TelegramSender) Channel() model.Channel { return model.ChannelChat }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Send は連携済みのチャットIDへテキストを送信する。
func (s *TelegramSender) Send(ctx context.Context, contact *model.UserContact, content Content) (string, error) {
	if contact.ChatID == "" {
		return "", errors.New("no chat linked")
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":                  contact.ChatID,
		"text":                     content.Subject + "\n\n" + content.Text,
		"disable_web_page_preview": false,
	})
	if err != nil {
		return "", fmt.Errorf("リクエストの生成に失敗しました: %w", err)
	}

	reqURL := fmt.Sprintf("%s/bot%s/sendMessage", s.endpoint, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// URLにトークンが含まれるため、エラー文字列はそのまま記録しない
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}

	var tr telegramResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("telegram status %d: invalid response: %w", resp.StatusCode, err)
	}
	if !tr.OK {
		s.logger.Warn("Telegram APIがエラーを返しました",
			slog.Int("status", resp.StatusCode),
			slog.String("description", tr.Description),
		)
		return "", fmt.Errorf("telegram status %d: %s", resp.StatusCode, tr.Description)
	}

	return strconv.FormatInt(tr.Result.MessageID, 10), nil
}
