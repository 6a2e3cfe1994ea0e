package domain

// Channel is a delivery transport.
type Channel string

// Supported delivery channels.
const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelSlack   Channel = "slack"
	ChannelTeams   Channel = "teams"
	ChannelWebhook Channel = "webhook"
)

// TargetChannels are the channels addressed through a ChannelTarget
// (a configured webhook endpoint) rather than a user preference flag.
var TargetChannels = []Channel{ChannelSlack, ChannelTeams, ChannelWebhook}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelSlack, ChannelTeams, ChannelWebhook:
		return true
	}
	return false
}
