package domain

// Recipient holds a user's contact addresses for the personal channels.
// Maintained by the account APIs; read-only here.
type Recipient struct {
	UserID       string   `json:"user_id"`
	Email        string   `json:"email,omitempty"`
	PhoneNumber  string   `json:"phone_number,omitempty"` // E.164
	DeviceTokens []string `json:"device_tokens,omitempty"`
}

// AddressFor returns the primary address for a personal channel, or empty if
// the recipient has none on file.
func (r Recipient) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.PhoneNumber
	case ChannelPush:
		if len(r.DeviceTokens) > 0 {
			return r.DeviceTokens[0]
		}
	}
	return ""
}
