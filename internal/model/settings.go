package model

// FooterSettings is the company block appended to every campaign email.
type FooterSettings struct {
	CompanyName  string       `json:"company_name"`
	Address      string       `json:"address"`
	ContactEmail string       `json:"contact_email"`
	ContactPhone string       `json:"contact_phone"`
	SocialLinks  []SocialLink `json:"social_links"`
}

type SocialLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// EmailProviderConfig configures the SendGrid-compatible email provider.
type EmailProviderConfig struct {
	APIKey        string `json:"api_key"`
	BaseURL       string `json:"base_url"`
	FromEmail     string `json:"from_email"`
	FromName      string `json:"from_name"`
	ReplyTo       string `json:"reply_to"`
	ForwardCopyTo string `json:"forward_copy_to"`
}

// ChatProviderConfig configures the WhatsApp gateway.
type ChatProviderConfig struct {
	BaseURL       string `json:"base_url"`
	Token         string `json:"token"`
	DeviceID      string `json:"device_id"`
	DefaultRegion string `json:"default_region"`
}

// ProviderConfigs is resolved once per dispatch run. A nil entry means the
// integration is disabled.
type ProviderConfigs struct {
	Email  *EmailProviderConfig
	Chat   *ChatProviderConfig
	Footer *FooterSettings
}

func (p ProviderConfigs) Enabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return p.Email != nil
	case ChannelChat:
		return p.Chat != nil
	}
	return false
}
