package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestParseChatID(t *testing.T) {
	id, err := parseChatID(" 999 ")
	assert.NoError(t, err)
	assert.Equal(t, int64(999), id)

	id, err = parseChatID("-1001234567890")
	assert.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), id)

	_, err = parseChatID("not-a-chat")
	assert.Error(t, err)
}

func TestGetSelfInfo(t *testing.T) {
	c := &Client{bot: &tgbotapi.BotAPI{Self: tgbotapi.User{ID: 42, UserName: "ghorza_bot"}}}
	info := c.GetSelfInfo()
	assert.Equal(t, int64(42), info.ID)
	assert.Equal(t, "ghorza_bot", info.Username)
}

func TestTruncateTextRuneBoundary(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, truncateText(short))

	long := strings.Repeat("م", maxMessageLength)
	got := truncateText(long)
	assert.LessOrEqual(t, len(got), maxMessageLength)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}
