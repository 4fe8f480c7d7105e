// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package telegram

import (
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/warden-dev/warden/internal/moderation"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

// enforce maps a final decision onto Telegram moderation calls.
//
//	delete: remove the offending message
//	warn:   reply to the offending message
//	mute:   restrict the sender for the decision's duration
//	ban:    ban the sender, permanently when the duration is zero
func (b *Bot) enforce(decision *moderation.FinalDecision) error {
	chatID, err := strconv.ParseInt(decision.ChatID, 10, 64)
	if err != nil {
		return wardenerr.Errorf(wardenerr.CodeChannelSendFailure, "invalid chat id %q", decision.ChatID)
	}
	userID, err := strconv.ParseInt(decision.UserID, 10, 64)
	if err != nil {
		return wardenerr.Errorf(wardenerr.CodeChannelSendFailure, "invalid user id %q", decision.UserID)
	}
	messageID, err := strconv.Atoi(decision.MessageID)
	if err != nil {
		return wardenerr.Errorf(wardenerr.CodeChannelSendFailure, "invalid message id %q", decision.MessageID)
	}

	switch decision.Action {
	case types.ActionDelete:
		return b.request(tgbotapi.NewDeleteMessage(chatID, messageID))

	case types.ActionWarn:
		text := "⚠️ " + warnText(decision)
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyToMessageID = messageID
		if _, err := b.bot.Send(msg); err != nil {
			return wardenerr.Wrap(err, wardenerr.CodeChannelSendFailure, "sending warning")
		}
		return nil

	case types.ActionMute:
		until := time.Now().Add(decision.Duration).Unix()
		return b.request(tgbotapi.RestrictChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{
				ChatID: chatID,
				UserID: userID,
			},
			UntilDate: until,
			Permissions: &tgbotapi.ChatPermissions{
				CanSendMessages: false,
			},
		})

	case types.ActionBan:
		cfg := tgbotapi.BanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{
				ChatID: chatID,
				UserID: userID,
			},
		}
		// Zero duration bans forever.
		if decision.Duration > 0 {
			cfg.UntilDate = time.Now().Add(decision.Duration).Unix()
		}
		return b.request(cfg)

	default:
		return wardenerr.Errorf(wardenerr.CodeChannelSendFailure,
			"unenforceable action %q", decision.Action)
	}
}

func (b *Bot) request(c tgbotapi.Chattable) error {
	if _, err := b.bot.Request(c); err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeChannelSendFailure, "telegram api request")
	}
	return nil
}

func warnText(decision *moderation.FinalDecision) string {
	if decision.Reason != "" {
		return "This message violates the chat rules: " + decision.Reason
	}
	return "This message violates the chat rules."
}
