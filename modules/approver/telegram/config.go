package telegram

// Config holds the Telegram approver configuration.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string `yaml:"token"`

	// ChatID is the chat approval requests are posted to.
	ChatID int64 `yaml:"chat_id"`

	// AllowUsers lists usernames or numeric user IDs permitted to resolve
	// approvals. Empty means any member of the chat may resolve.
	AllowUsers []string `yaml:"allow_users"`

	// PollTimeout is the long-polling timeout in seconds. Defaults to 60.
	PollTimeout int `yaml:"poll_timeout"`
}

func (c *Config) defaults() {
	if c.PollTimeout == 0 {
		c.PollTimeout = 60
	}
}
