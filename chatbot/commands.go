package chatbot

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	CommandBalance      = "balance"
	CommandDaily        = "daily"
	CommandLeaderboard  = "leaderboard"
	CommandLastSave     = "lastsave"
	CommandPing         = "ping"
	CommandUptime       = "uptime"
	CommandRoll         = "roll"
	CommandEightBall    = "8ball"
	CommandSetPrefix    = "setprefix"
	CommandResetPrefix  = "resetprefix"
	CommandSetWelcome   = "setwelcome"
	CommandSetModRole   = "setmodrole"
	CommandSetAdminRole = "setadminrole"
	CommandKick         = "kick"
	CommandBan          = "ban"
	CommandUnban        = "unban"
	CommandHello        = "hello"
	CommandPoll         = "poll"
	CommandServerInfo   = "serverinfo"
)

const (
	// dailyRewardAmount is credited once per UTC day per user
	dailyRewardAmount int64 = 100

	// leaderboardLimit is the number of entries shown by the
	// leaderboard command
	leaderboardLimit = 5

	// maxPrefixLength caps configured guild command prefixes
	maxPrefixLength = 5

	defaultRollSides = 6

	commandTimeout = 15 * time.Second
)

const (
	embedColorBlurple = 0x5865F2
	embedColorGreen   = 0x57F287
	embedColorGold    = 0xFEE75C
	embedColorOrange  = 0xE67E22
	embedColorRed     = 0xED4245
	embedColorBlue    = 0x3498DB
	embedColorPurple  = 0x9B59B6
	embedColorTeal    = 0x1ABC9C
)

// pollEmojis are the numbered reactions added to poll messages, one
// per option; its length caps the option count.
var pollEmojis = []string{
	"1️⃣",
	"2️⃣",
	"3️⃣",
	"4️⃣",
	"5️⃣",
}

var eightBallResponses = []string{
	"It is certain.",
	"Without a doubt.",
	"You may rely on it.",
	"Yes, definitely.",
	"It is decidedly so.",
	"As I see it, yes.",
	"Most likely.",
	"Outlook good.",
	"Yes.",
	"Signs point to yes.",
	"Reply hazy, try again.",
	"Ask again later.",
	"Better not tell you now.",
	"Cannot predict now.",
	"Concentrate and ask again.",
	"Don't count on it.",
	"My reply is no.",
	"My sources say no.",
	"Outlook not so good.",
	"Very doubtful.",
}

// handlerMessageCreate dispatches prefixed text commands. The guild's
// configured prefix takes precedence over the default; messages from
// bots (including our own) are ignored.
func (d *Discord) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Author == nil || m.Author.Bot {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		d.handleMessage(ctx, m)
	}
}

func (d *Discord) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	prefix, err := d.bot.store.CommandPrefix(
		ctx,
		m.GuildID,
		d.config.CommandPrefix,
	)
	if err != nil {
		d.logger.WarnContext(
			ctx,
			"falling back to default command prefix",
			"guild_id", m.GuildID,
			tint.Err(err),
		)
	}
	if !strings.HasPrefix(m.Content, prefix) {
		return
	}

	body := strings.TrimSpace(strings.TrimPrefix(m.Content, prefix))
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]
	// rawArgs keeps quoting intact for commands that parse it themselves
	rawArgs := strings.TrimSpace(strings.TrimPrefix(body, fields[0]))

	if !d.bot.commandLimiter.Allow() {
		d.logger.WarnContext(
			ctx,
			"command rate limit exceeded, dropping",
			"command", name,
			"user_id", m.Author.ID,
		)
		return
	}

	logger := d.logger.With(
		"command", name,
		"user_id", m.Author.ID,
		"guild_id", m.GuildID,
	)
	ctx = WithLogger(ctx, logger)
	d.metricMessagesHandled.Add(1)

	var cmdErr error
	switch name {
	case CommandBalance:
		cmdErr = d.commandBalance(ctx, m)
	case CommandDaily:
		cmdErr = d.commandDaily(ctx, m)
	case CommandLeaderboard:
		cmdErr = d.commandLeaderboard(ctx, m)
	case CommandLastSave:
		cmdErr = d.commandLastSave(ctx, m)
	case CommandPing:
		cmdErr = d.commandPing(m)
	case CommandUptime:
		cmdErr = d.commandUptime(m)
	case CommandRoll:
		cmdErr = d.commandRoll(m, args)
	case CommandEightBall:
		cmdErr = d.commandEightBall(m, args)
	case CommandSetPrefix:
		cmdErr = d.commandSetPrefix(ctx, m, args)
	case CommandResetPrefix:
		cmdErr = d.commandResetPrefix(ctx, m)
	case CommandSetWelcome:
		cmdErr = d.commandSetWelcome(ctx, m, args)
	case CommandSetModRole:
		cmdErr = d.commandSetModRole(ctx, m, args)
	case CommandSetAdminRole:
		cmdErr = d.commandSetAdminRole(ctx, m, args)
	case CommandKick:
		cmdErr = d.commandKick(ctx, m, args)
	case CommandBan:
		cmdErr = d.commandBan(ctx, m, args)
	case CommandUnban:
		cmdErr = d.commandUnban(ctx, m, args)
	case CommandHello:
		cmdErr = d.commandHello(m)
	case CommandPoll:
		cmdErr = d.commandPoll(ctx, m, rawArgs)
	case CommandServerInfo:
		cmdErr = d.commandServerInfo(m)
	default:
		return
	}

	if cmdErr != nil {
		logger.ErrorContext(ctx, "command failed", tint.Err(cmdErr))
		_ = d.reply(
			m,
			"Something went wrong while running that command. "+
				"Please try again later.",
		)
	}
}

func (d *Discord) reply(m *discordgo.MessageCreate, content string) error {
	_, err := d.session.ChannelMessageSendReply(
		m.ChannelID,
		content,
		m.Reference(),
	)
	return err
}

func (d *Discord) replyEmbed(
	m *discordgo.MessageCreate,
	embed *discordgo.MessageEmbed,
) error {
	_, err := d.session.ChannelMessageSendEmbed(m.ChannelID, embed)
	return err
}

// requireConfiguredRole enforces the guild's configured moderator or
// administrator role. An unconfigured role means the command is open
// (Discord-side permissions still apply to the bot's own REST calls).
// Returns true if the author may proceed.
func (d *Discord) requireConfiguredRole(
	ctx context.Context,
	m *discordgo.MessageCreate,
	admin bool,
) (bool, error) {
	if m.GuildID == "" {
		return false, d.reply(m, "This command can only be used in a server.")
	}
	settings, err := d.bot.store.GetGuildSettings(ctx, m.GuildID)
	if err != nil {
		return false, err
	}
	roleID := settings.ModeratorRoleID
	roleType := "moderator"
	if admin {
		roleID = settings.AdminRoleID
		roleType = "administrator"
	}
	if roleID == nil {
		return true, nil
	}

	member := m.Member
	if member == nil {
		member, err = d.session.GuildMember(m.GuildID, m.Author.ID)
		if err != nil {
			return false, err
		}
	}
	if memberHasRole(member, *roleID) {
		return true, nil
	}
	return false, d.reply(
		m,
		fmt.Sprintf(
			"You need the <@&%s> (%s) role to use this command.",
			*roleID,
			roleType,
		),
	)
}

func (d *Discord) commandBalance(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	target := mentionOrSelf(m)
	balance, err := d.bot.store.GetBalance(ctx, target.ID)
	if err != nil {
		return err
	}
	name := displayName(target)
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Balance",
			Color: embedColorBlurple,
			Fields: []*discordgo.MessageEmbedField{
				{
					Name:  name,
					Value: fmt.Sprintf("Balance: **%d**", balance),
				},
			},
		},
	)
}

func (d *Discord) commandDaily(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	now := time.Now().UTC()
	claimKey := metadataKeyDailyPrefix + m.Author.ID

	lastClaimRaw, claimed, err := d.bot.store.GetMetadata(ctx, claimKey)
	if err != nil {
		return err
	}
	if claimed {
		lastClaim, parseErr := time.Parse(time.RFC3339, lastClaimRaw)
		if parseErr == nil &&
			lastClaim.UTC().Truncate(24*time.Hour).Equal(
				now.Truncate(24*time.Hour),
			) {
			nextClaim := lastClaim.Add(24 * time.Hour)
			return d.replyEmbed(
				m, &discordgo.MessageEmbed{
					Title: "Daily Reward",
					Color: embedColorOrange,
					Description: fmt.Sprintf(
						"You already claimed your reward today. "+
							"Come back <t:%d:R>!",
						nextClaim.Unix(),
					),
				},
			)
		}
	}

	newTotal, err := d.bot.store.IncrementBalance(
		ctx,
		m.Author.ID,
		dailyRewardAmount,
	)
	if err != nil {
		return err
	}
	if _, _, err = d.bot.store.SetMetadata(
		ctx,
		claimKey,
		now.Format(time.RFC3339),
	); err != nil {
		return err
	}

	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Daily Reward",
			Color: embedColorGreen,
			Description: fmt.Sprintf(
				"You received %d points!",
				dailyRewardAmount,
			),
			Fields: []*discordgo.MessageEmbedField{
				{
					Name:  m.Author.Username,
					Value: fmt.Sprintf("New balance: **%d**", newTotal),
				},
			},
		},
	)
}

func (d *Discord) commandLeaderboard(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	top, err := d.bot.store.TopBalances(ctx, leaderboardLimit)
	if err != nil {
		return err
	}
	embed := &discordgo.MessageEmbed{
		Title: "Leaderboard",
		Color: embedColorGold,
	}
	if len(top) == 0 {
		embed.Description = "No one has any points yet."
		return d.replyEmbed(m, embed)
	}
	lines := make([]string, 0, len(top))
	for i, record := range top {
		lines = append(
			lines,
			fmt.Sprintf(
				"%d. <@%s> - %d points",
				i+1,
				record.UserID,
				record.Balance,
			),
		)
	}
	embed.Description = strings.Join(lines, "\n")
	return d.replyEmbed(m, embed)
}

func (d *Discord) commandLastSave(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	raw, exists, err := d.bot.store.GetMetadata(ctx, MetadataKeyLastSave)
	if err != nil {
		return err
	}
	embed := &discordgo.MessageEmbed{
		Title: "Last Save",
		Color: embedColorBlue,
	}
	if !exists {
		embed.Description = "The scheduled save has not run yet."
		return d.replyEmbed(m, embed)
	}
	lastSave, parseErr := time.Parse(time.RFC3339, raw)
	if parseErr != nil {
		embed.Description = fmt.Sprintf(
			"The last background save ran at **%s**.",
			raw,
		)
		return d.replyEmbed(m, embed)
	}
	embed.Description = fmt.Sprintf(
		"The last background save ran at **<t:%d:F>** (<t:%d:R>).",
		lastSave.Unix(),
		lastSave.Unix(),
	)
	return d.replyEmbed(m, embed)
}

func (d *Discord) commandPing(m *discordgo.MessageCreate) error {
	latency := d.session.HeartbeatLatency()
	latencyMS := float64(latency.Microseconds()) / 1000

	color := embedColorGreen
	switch {
	case latencyMS >= 300:
		color = embedColorRed
	case latencyMS >= 100:
		color = embedColorGold
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Pong!",
			Color: color,
			Fields: []*discordgo.MessageEmbedField{
				{
					Name:  "Latency",
					Value: fmt.Sprintf("%.2f ms", latencyMS),
				},
			},
		},
	)
}

func (d *Discord) commandUptime(m *discordgo.MessageCreate) error {
	uptime := "Unknown"
	if !d.bot.startedAt.IsZero() {
		uptime = humanizeDuration(time.Since(d.bot.startedAt))
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Uptime",
			Color: embedColorBlue,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Running For", Value: uptime},
			},
		},
	)
}

func (d *Discord) commandRoll(m *discordgo.MessageCreate, args []string) error {
	sides := defaultRollSides
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil {
			return d.reply(m, "Please provide a whole number for the sides.")
		}
		sides = parsed
	}
	if sides < 2 {
		return d.reply(
			m,
			"Please provide a number greater than 1 for the sides.",
		)
	}
	result := rand.Intn(sides) + 1
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Dice Roll",
			Color: embedColorPurple,
			Description: fmt.Sprintf(
				"You rolled a `%d` on a `%d`-sided die!",
				result,
				sides,
			),
		},
	)
}

func (d *Discord) commandEightBall(
	m *discordgo.MessageCreate,
	args []string,
) error {
	if len(args) == 0 {
		return d.reply(m, "Ask the magic 8-ball a question.")
	}
	question := strings.Join(args, " ")
	response := eightBallResponses[rand.Intn(len(eightBallResponses))]
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Magic 8-Ball",
			Color: embedColorTeal,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Question", Value: question},
				{Name: "Answer", Value: response},
			},
		},
	)
}

func (d *Discord) commandHello(m *discordgo.MessageCreate) error {
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title:       "Hello!",
			Color:       embedColorBlurple,
			Description: "Hey there! I'm alive and ready to help.",
			Footer: &discordgo.MessageEmbedFooter{
				Text: "Requested by " + displayName(m.Author),
			},
		},
	)
}

// commandPoll posts a poll embed and seeds it with one numbered
// reaction per option, so members can vote by clicking. The question
// and options come from the raw argument string, with double quotes
// grouping multi-word values.
func (d *Discord) commandPoll(
	ctx context.Context,
	m *discordgo.MessageCreate,
	rawArgs string,
) error {
	parts := splitQuotedArgs(rawArgs)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return d.reply(m, "Please provide a question for the poll.")
	}
	question := strings.TrimSpace(parts[0])

	options := make([]string, 0, len(parts)-1)
	for _, option := range parts[1:] {
		if trimmed := strings.TrimSpace(option); trimmed != "" {
			options = append(options, trimmed)
		}
	}
	if len(options) < 2 {
		return d.reply(
			m,
			fmt.Sprintf(
				"Please provide between 2 and %d options for the poll. "+
					"Example: `%spoll \"Your question\" \"Option 1\" \"Option 2\"`",
				len(pollEmojis),
				d.config.CommandPrefix,
			),
		)
	}
	if len(options) > len(pollEmojis) {
		return d.reply(
			m,
			fmt.Sprintf("Polls can only have up to %d options.", len(pollEmojis)),
		)
	}

	lines := make([]string, 0, len(options))
	for i, option := range options {
		lines = append(lines, pollEmojis[i]+" "+option)
	}
	msg, err := d.session.ChannelMessageSendEmbed(
		m.ChannelID, &discordgo.MessageEmbed{
			Title:       question,
			Color:       embedColorBlurple,
			Description: strings.Join(lines, "\n"),
			Footer: &discordgo.MessageEmbedFooter{
				Text: "Poll created by " + displayName(m.Author),
			},
		},
	)
	if err != nil {
		return err
	}

	for i := range options {
		if reactErr := d.session.MessageReactionAdd(
			m.ChannelID,
			msg.ID,
			pollEmojis[i],
		); reactErr != nil {
			logger, ok := ContextLogger(ctx)
			if !ok {
				logger = d.logger
			}
			logger.WarnContext(
				ctx,
				"unable to add poll reaction",
				"message_id", msg.ID,
				"emoji", pollEmojis[i],
				tint.Err(reactErr),
			)
			break
		}
	}
	return nil
}

func (d *Discord) commandServerInfo(m *discordgo.MessageCreate) error {
	if m.GuildID == "" {
		return d.reply(m, "This command can only be used in a server.")
	}
	guild, err := d.session.Guild(m.GuildID)
	if err != nil {
		return err
	}

	members := "Unavailable"
	switch {
	case guild.MemberCount > 0:
		members = formatGroupedInt(guild.MemberCount)
	case guild.ApproximateMemberCount > 0:
		members = formatGroupedInt(guild.ApproximateMemberCount)
	}

	embed := &discordgo.MessageEmbed{
		Title: "Server Info - " + guild.Name,
		Color: embedColorBlurple,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Members", Value: members, Inline: true},
			{
				Name:   "Roles",
				Value:  strconv.Itoa(len(guild.Roles)),
				Inline: true,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Server ID: " + guild.ID,
		},
	}
	if createdAt, tsErr := discordgo.SnowflakeTimestamp(guild.ID); tsErr == nil {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Created",
				Value: fmt.Sprintf("<t:%d:F>", createdAt.Unix()),
			},
		)
	}
	if guild.Icon != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{
			URL: guild.IconURL(""),
		}
	}
	return d.replyEmbed(m, embed)
}

func (d *Discord) commandSetPrefix(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) error {
	if m.GuildID == "" {
		return d.reply(m, "Prefixes can't be changed in DMs.")
	}
	allowed, err := d.requireConfiguredRole(ctx, m, true)
	if err != nil || !allowed {
		return err
	}
	if len(args) == 0 {
		return d.reply(m, "Please provide a non-empty prefix.")
	}
	trimmed := strings.TrimSpace(args[0])
	if trimmed == "" {
		return d.reply(m, "Please provide a non-empty prefix.")
	}
	if len(trimmed) > maxPrefixLength {
		return d.reply(
			m,
			fmt.Sprintf(
				"Prefixes should be %d characters or fewer.",
				maxPrefixLength,
			),
		)
	}
	if _, err = d.bot.store.SetGuildPrefix(ctx, m.GuildID, &trimmed); err != nil {
		return err
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Prefix Updated",
			Color: embedColorGold,
			Description: fmt.Sprintf(
				"New prefix for this server is `%s`",
				trimmed,
			),
		},
	)
}

func (d *Discord) commandResetPrefix(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	if m.GuildID == "" {
		return d.reply(m, "Prefixes can't be changed in DMs.")
	}
	allowed, err := d.requireConfiguredRole(ctx, m, true)
	if err != nil || !allowed {
		return err
	}
	if _, err = d.bot.store.SetGuildPrefix(ctx, m.GuildID, nil); err != nil {
		return err
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Prefix Updated",
			Color: embedColorGold,
			Description: fmt.Sprintf(
				"Prefix reset to the default `%s`",
				d.config.CommandPrefix,
			),
		},
	)
}

func (d *Discord) commandSetWelcome(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) error {
	allowed, err := d.requireConfiguredRole(ctx, m, true)
	if err != nil || !allowed {
		return err
	}
	channelID := parseChannelArg(args)
	if len(args) > 0 && channelID == nil && !isClearArg(args[0]) {
		return d.reply(m, "Please mention a channel, or `none` to clear.")
	}
	if _, err = d.bot.store.SetWelcomeChannel(ctx, m.GuildID, channelID); err != nil {
		return err
	}
	description := "Welcome messages disabled."
	if channelID != nil {
		description = fmt.Sprintf("Welcome channel set to <#%s>.", *channelID)
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title:       "Welcome Channel Updated",
			Color:       embedColorGreen,
			Description: description,
		},
	)
}

func (d *Discord) commandSetModRole(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) error {
	allowed, err := d.requireConfiguredRole(ctx, m, true)
	if err != nil || !allowed {
		return err
	}
	roleID := parseRoleArg(args)
	if len(args) > 0 && roleID == nil && !isClearArg(args[0]) {
		return d.reply(m, "Please mention a role, or `none` to clear.")
	}
	if _, err = d.bot.store.SetModeratorRole(ctx, m.GuildID, roleID); err != nil {
		return err
	}
	description := "Moderator role requirement cleared."
	if roleID != nil {
		description = fmt.Sprintf("Moderator role set to <@&%s>.", *roleID)
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title:       "Moderator Role Updated",
			Color:       embedColorBlue,
			Description: description,
		},
	)
}

func (d *Discord) commandSetAdminRole(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) error {
	allowed, err := d.requireConfiguredRole(ctx, m, true)
	if err != nil || !allowed {
		return err
	}
	roleID := parseRoleArg(args)
	if len(args) > 0 && roleID == nil && !isClearArg(args[0]) {
		return d.reply(m, "Please mention a role, or `none` to clear.")
	}
	if _, err = d.bot.store.SetAdminRole(ctx, m.GuildID, roleID); err != nil {
		return err
	}
	description := "Administrator role requirement cleared."
	if roleID != nil {
		description = fmt.Sprintf("Administrator role set to <@&%s>.", *roleID)
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title:       "Administrator Role Updated",
			Color:       embedColorBlue,
			Description: description,
		},
	)
}

func (d *Discord) commandKick(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) error {
	allowed, err := d.requireConfiguredRole(ctx, m, false)
	if err != nil || !allowed {
		return err
	}
	if len(m.Mentions) == 0 {
		return d.reply(m, "Please mention the member to kick.")
	}
	target := m.Mentions[0]
	if target.ID == m.Author.ID {
		return d.reply(m, "You can't kick yourself.")
	}
	reason := moderationReason(args, "Kicked by "+m.Author.Username)
	if err = d.session.GuildMemberDeleteWithReason(
		m.GuildID,
		target.ID,
		reason,
	); err != nil {
		return d.reply(m, "I don't have permission to kick that member.")
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Member Kicked",
			Color: embedColorOrange,
			Description: fmt.Sprintf(
				"<@%s> was kicked.\nReason: %s",
				target.ID,
				reason,
			),
		},
	)
}

func (d *Discord) commandBan(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) error {
	allowed, err := d.requireConfiguredRole(ctx, m, true)
	if err != nil || !allowed {
		return err
	}
	if len(m.Mentions) == 0 {
		return d.reply(m, "Please mention the member to ban.")
	}
	target := m.Mentions[0]
	if target.ID == m.Author.ID {
		return d.reply(m, "You can't ban yourself.")
	}
	reason := moderationReason(args, "Banned by "+m.Author.Username)
	if err = d.session.GuildBanCreateWithReason(
		m.GuildID,
		target.ID,
		reason,
		0,
	); err != nil {
		return d.reply(m, "I don't have permission to ban that member.")
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title: "Member Banned",
			Color: embedColorRed,
			Description: fmt.Sprintf(
				"<@%s> was banned.\nReason: %s",
				target.ID,
				reason,
			),
		},
	)
}

func (d *Discord) commandUnban(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) error {
	allowed, err := d.requireConfiguredRole(ctx, m, true)
	if err != nil || !allowed {
		return err
	}
	if len(args) == 0 {
		return d.reply(m, "Please provide the ID of the user to unban.")
	}
	userID := strings.Trim(args[0], "<@!>")
	if userID == "" {
		return d.reply(m, "Please provide the ID of the user to unban.")
	}
	if err = d.session.GuildBanDelete(m.GuildID, userID); err != nil {
		return d.reply(m, "I couldn't remove that ban.")
	}
	return d.replyEmbed(
		m, &discordgo.MessageEmbed{
			Title:       "Ban Removed",
			Color:       embedColorGreen,
			Description: fmt.Sprintf("<@%s> was unbanned.", userID),
		},
	)
}

// handlerGuildMemberAdd greets new members in the guild's configured
// welcome channel, if one is set.
func (d *Discord) handlerGuildMemberAdd() func(
	s *discordgo.Session,
	g *discordgo.GuildMemberAdd,
) {
	return func(_ *discordgo.Session, g *discordgo.GuildMemberAdd) {
		if g == nil || g.User == nil || g.User.Bot {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		settings, err := d.bot.store.GetGuildSettings(ctx, g.GuildID)
		if err != nil {
			d.logger.ErrorContext(
				ctx,
				"unable to load guild settings for welcome message",
				"guild_id", g.GuildID,
				tint.Err(err),
			)
			return
		}
		if settings.WelcomeChannelID == nil {
			return
		}
		if sendErr := d.channelMessageSend(
			*settings.WelcomeChannelID,
			fmt.Sprintf("Welcome, <@%s>!", g.User.ID),
		); sendErr != nil {
			d.logger.ErrorContext(
				ctx,
				"unable to send welcome message",
				"guild_id", g.GuildID,
				tint.Err(sendErr),
			)
		}
	}
}

func moderationReason(args []string, fallback string) string {
	reason := strings.TrimSpace(strings.Join(argsAfterMention(args), " "))
	if reason == "" {
		return fallback
	}
	return reason
}

// argsAfterMention drops a leading user mention token so the remainder
// can be treated as a free-form reason.
func argsAfterMention(args []string) []string {
	if len(args) > 0 && strings.HasPrefix(args[0], "<@") {
		return args[1:]
	}
	return args
}

func isClearArg(arg string) bool {
	switch strings.ToLower(arg) {
	case "none", "off", "clear":
		return true
	}
	return false
}

// parseChannelArg extracts a channel ID from a `<#123>` mention or a
// bare numeric ID. Returns nil if no channel argument is present.
func parseChannelArg(args []string) *string {
	if len(args) == 0 {
		return nil
	}
	id := strings.Trim(args[0], "<#>")
	if id == "" || !isSnowflake(id) {
		return nil
	}
	return &id
}

// parseRoleArg extracts a role ID from a `<@&123>` mention or a bare
// numeric ID. Returns nil if no role argument is present.
func parseRoleArg(args []string) *string {
	if len(args) == 0 {
		return nil
	}
	id := strings.Trim(args[0], "<@&>")
	if id == "" || !isSnowflake(id) {
		return nil
	}
	return &id
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
