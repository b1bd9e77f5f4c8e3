package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/model"
)

const defaultRegion = "US"

// ChatTransport posts messages to a WhatsApp gateway.
type ChatTransport struct {
	Logger     zerolog.Logger
	HTTPClient *http.Client
}

func NewChatTransport(logger zerolog.Logger, timeout time.Duration) *ChatTransport {
	return &ChatTransport{
		Logger:     logger.With().Str("provider", "whatsapp").Logger(),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type chatSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Device  string `json:"device,omitempty"`
}

func (t *ChatTransport) Channel() model.Channel { return model.ChannelChat }

func (t *ChatTransport) Send(ctx context.Context, msg Message, cfg model.ProviderConfigs) error {
	if cfg.Chat == nil {
		return ErrDisabled
	}
	cc := cfg.Chat

	phone, err := NormalizeHandle(msg.To, cc.DefaultRegion)
	if err != nil {
		return &appErrors.TransportError{Channel: string(model.ChannelChat), Err: err}
	}

	payload, err := json.Marshal(chatSendRequest{Phone: phone, Message: msg.Body, Device: cc.DeviceID})
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	endpoint := strings.TrimRight(cc.BaseURL, "/") + "/send/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cc.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cc.Token)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return &appErrors.TransportError{Channel: string(model.ChannelChat), Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Logger.Debug().Str("log_id", msg.LogID).Int("status", resp.StatusCode).Bytes("body", body).Msg("gateway rejected message")
		return &appErrors.TransportError{
			Channel:    string(model.ChannelChat),
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        readErr,
		}
	}
	return nil
}

func (t *ChatTransport) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

// NormalizeHandle converts a chat handle to the digits-only E.164 form the
// gateway expects.
func NormalizeHandle(handle, region string) (string, error) {
	if region == "" {
		region = defaultRegion
	}
	num, err := phonenumbers.Parse(handle, strings.ToUpper(region))
	if err != nil {
		return "", fmt.Errorf("invalid chat handle %q: %w", handle, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid chat handle %q", handle)
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), nil
}
