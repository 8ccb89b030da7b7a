package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Channel manages access to the restricted channel through the Bot API. It
// satisfies the membership and notifier surfaces the reconciliation engine
// and the expiry scheduler consume.
type Channel struct {
	api       *tgbotapi.BotAPI
	channelID int64
}

// NewChannel wraps an authorized bot for one channel.
func NewChannel(api *tgbotapi.BotAPI, channelID int64) *Channel {
	return &Channel{api: api, channelID: channelID}
}

// RevokeMembership bans the user from the channel. Banning a user who already
// left still records the ban, so a stale invite link cannot readmit them.
func (c *Channel) RevokeMembership(_ context.Context, userID int64) error {
	_, err := c.api.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: c.channelID,
			UserID: userID,
		},
	})
	if err != nil {
		return fmt.Errorf("ban user %d: %w", userID, err)
	}
	return nil
}

// RestoreMembership lifts a previous ban. OnlyIfBanned keeps this idempotent:
// unbanning a member in good standing would otherwise kick them out.
func (c *Channel) RestoreMembership(_ context.Context, userID int64) error {
	_, err := c.api.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: c.channelID,
			UserID: userID,
		},
		OnlyIfBanned: true,
	})
	if err != nil {
		return fmt.Errorf("unban user %d: %w", userID, err)
	}
	return nil
}

// CreateSingleUseInviteLink issues a join link limited to one member that
// stops working at expiry.
func (c *Channel) CreateSingleUseInviteLink(_ context.Context, expiry time.Time) (string, error) {
	resp, err := c.api.Request(tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: c.channelID},
		ExpireDate:  int(expiry.Unix()),
		MemberLimit: 1,
	})
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}

	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode invite link response: %w", err)
	}
	return link.InviteLink, nil
}

// Notify sends a plain text message to the user's private chat.
func (c *Channel) Notify(_ context.Context, userID int64, text string) error {
	if _, err := c.api.Send(tgbotapi.NewMessage(userID, text)); err != nil {
		return fmt.Errorf("notify user %d: %w", userID, err)
	}
	return nil
}
