package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the bot's Discord session: connecting, gateway
// event handlers, and the REST calls the command handlers need.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger

	metricConnects        atomic.Int64
	metricDisconnects     atomic.Int64
	metricMessagesHandled atomic.Int64
	connected             atomic.Bool

	discordgoRemoveHandlerFuncs []func()
	bot                         *Bot
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc

	err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level())
	session.session.LogLevel = discordgo.LogDebug
	if err != nil {
		return session, err
	}
	return session, nil
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
		if d.config.CustomStatus != "" {
			if statusErr := d.session.UpdateCustomStatus(
				d.config.CustomStatus,
			); statusErr != nil {
				d.logger.Error("unable to set custom status", tint.Err(statusErr))
			}
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"disconnected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

// DiscordSessionHandler is the slice of discordgo.Session the bot
// uses, so tests can substitute a stub session.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// UpdateCustomStatus sets the bot's user status to the given string
	UpdateCustomStatus(status string) error

	// SetLogLevel sets the discordgo session's log level
	SetLogLevel(level slog.Level) error

	// HeartbeatLatency returns the round-trip time of the last gateway
	// heartbeat
	HeartbeatLatency() time.Duration

	// ChannelMessageSend sends a message to the given channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a message as a reply to a previous
	// message in the same channel
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendEmbed sends an embed to the given channel
	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// MessageReactionAdd adds an emoji reaction to a message
	MessageReactionAdd(
		channelID string,
		messageID string,
		emojiID string,
		opts ...discordgo.RequestOption,
	) error

	// Guild returns the guild with the given ID
	Guild(
		guildID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Guild, error)

	// GuildMember returns a member of the given guild
	GuildMember(
		guildID string,
		userID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Member, error)

	// GuildMemberDeleteWithReason kicks a member from the guild
	GuildMemberDeleteWithReason(
		guildID string,
		userID string,
		reason string,
		opts ...discordgo.RequestOption,
	) error

	// GuildBanCreateWithReason bans a user from the guild
	GuildBanCreateWithReason(
		guildID string,
		userID string,
		reason string,
		days int,
		opts ...discordgo.RequestOption,
	) error

	// GuildBanDelete removes a user's ban
	GuildBanDelete(
		guildID string,
		userID string,
		opts ...discordgo.RequestOption,
	) error
}

// DiscordSession implements DiscordSessionHandler over a real
// discordgo.Session, logging failed REST calls.
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

// SetLogLevel points the discordgo logger at our structured logger,
// filtering at the given level.
func (d DiscordSession) SetLogLevel(level slog.Level) error {
	levelVar := &slog.LevelVar{}
	levelVar.Set(level)
	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     levelVar,
			AddSource: true,
		},
	).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")})
	discordgo.Logger = discordgoLoggerFunc(context.Background(), handler)
	return nil
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, message, opts...)
	if err != nil {
		d.logger.Error(
			"error sending channel message",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID,
		content,
		reference,
		opts...,
	)
	if err != nil {
		d.logger.Error(
			"error sending channel reply",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendEmbed(channelID, embed, opts...)
	if err != nil {
		d.logger.Error(
			"error sending channel embed",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
	return msg, err
}

func (d DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.MessageReactionAdd(channelID, messageID, emojiID, opts...)
	if err != nil {
		d.logger.Error(
			"error adding message reaction",
			"channel_id", channelID,
			"message_id", messageID,
			"emoji", emojiID,
			tint.Err(err),
		)
	}
	return err
}

func (d DiscordSession) Guild(
	guildID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	guild, err := d.session.Guild(guildID, opts...)
	if err != nil {
		d.logger.Error(
			"error fetching guild",
			"guild_id", guildID,
			tint.Err(err),
		)
	}
	return guild, err
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	member, err := d.session.GuildMember(guildID, userID, opts...)
	if err != nil {
		d.logger.Error(
			"error fetching guild member",
			"guild_id", guildID,
			"user_id", userID,
			tint.Err(err),
		)
	}
	return member, err
}

func (d DiscordSession) GuildMemberDeleteWithReason(
	guildID string,
	userID string,
	reason string,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberDeleteWithReason(guildID, userID, reason, opts...)
	if err != nil {
		d.logger.Error(
			"error kicking guild member",
			"guild_id", guildID,
			"user_id", userID,
			tint.Err(err),
		)
	}
	return err
}

func (d DiscordSession) GuildBanCreateWithReason(
	guildID string,
	userID string,
	reason string,
	days int,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.GuildBanCreateWithReason(
		guildID,
		userID,
		reason,
		days,
		opts...,
	)
	if err != nil {
		d.logger.Error(
			"error banning user",
			"guild_id", guildID,
			"user_id", userID,
			tint.Err(err),
		)
	}
	return err
}

func (d DiscordSession) GuildBanDelete(
	guildID string,
	userID string,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.GuildBanDelete(guildID, userID, opts...)
	if err != nil {
		d.logger.Error(
			"error removing ban",
			"guild_id", guildID,
			"user_id", userID,
			tint.Err(err),
		)
	}
	return err
}
