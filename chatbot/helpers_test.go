package chatbot

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestHumanizeDuration(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		input    time.Duration
		expected string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Hour, "2h 0s"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1d 2h 3m 4s"},
	} {
		assert.Equal(t, tc.expected, humanizeDuration(tc.input), tc.input.String())
	}
}

func TestSplitQuotedArgs(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{"   ", nil},
		{"one two three", []string{"one", "two", "three"}},
		{`"one two" three`, []string{"one two", "three"}},
		{`"a?" "b c" d`, []string{"a?", "b c", "d"}},
		{`""`, []string{""}},
		{`unterminated "quote runs out`, []string{"unterminated", "quote runs out"}},
	} {
		assert.Equal(t, tc.expected, splitQuotedArgs(tc.input), tc.input)
	}
}

func TestFormatGroupedInt(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	} {
		assert.Equal(t, tc.expected, formatGroupedInt(tc.input), tc.expected)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", displayName(nil))
	assert.Equal(t, "tester", displayName(&discordgo.User{Username: "tester"}))
	assert.Equal(
		t,
		"Tester",
		displayName(&discordgo.User{Username: "tester", GlobalName: "Tester"}),
	)
}

func TestMemberHasRole(t *testing.T) {
	t.Parallel()
	member := &discordgo.Member{Roles: []string{"a", "b"}}
	assert.True(t, memberHasRole(member, "a"))
	assert.False(t, memberHasRole(member, "c"))
	assert.False(t, memberHasRole(member, ""))
	assert.False(t, memberHasRole(nil, "a"))
}

func TestParseChannelAndRoleArgs(t *testing.T) {
	t.Parallel()
	ch := parseChannelArg([]string{"<#12345>"})
	if assert.NotNil(t, ch) {
		assert.Equal(t, "12345", *ch)
	}
	ch = parseChannelArg([]string{"12345"})
	if assert.NotNil(t, ch) {
		assert.Equal(t, "12345", *ch)
	}
	assert.Nil(t, parseChannelArg([]string{"none"}))
	assert.Nil(t, parseChannelArg(nil))

	role := parseRoleArg([]string{"<@&678>"})
	if assert.NotNil(t, role) {
		assert.Equal(t, "678", *role)
	}
	assert.Nil(t, parseRoleArg([]string{"clear"}))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("test", t.Name())
	ctx := WithLogger(context.Background(), logger)
	found, ok := ContextLogger(ctx)
	assert.True(t, ok)
	assert.Equal(t, logger, found)
}

func TestStructToSlogValueRedactsLogTag(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	cfg.Discord.Token = "super-secret"

	v := structToSlogValue(cfg)
	assert.NotContains(t, v.String(), "super-secret")
	assert.Contains(t, v.String(), "[redacted]")
}
