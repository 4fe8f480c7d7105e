// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/warden-dev/warden/internal/rules"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

const helpText = `Moderation commands (admins only):
/add <action[:duration]> <description> — add a rule for this chat, e.g. /add mute:10m no job offers
/remove <rule-id> — remove a rule
/rules — list rules effective in this chat
/help — this message`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "help", "start":
		b.reply(chatID, msg.MessageID, helpText)
		return
	}

	if !b.isAdmin(msg.From.ID) {
		b.logger.Warn("command from non-admin ignored",
			"user_id", msg.From.ID, "command", msg.Command())
		return
	}

	switch msg.Command() {
	case "add":
		b.cmdAdd(ctx, msg)
	case "remove":
		b.cmdRemove(ctx, msg)
	case "rules":
		b.cmdRules(ctx, msg)
	default:
		b.reply(chatID, msg.MessageID, "Unknown command. Type /help for available commands.")
	}
}

// cmdAdd parses "/add <action[:duration]> <description>". The description
// is the rule text; routing and classification happen in the rule service.
func (b *Bot) cmdAdd(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	actionArg, description, _ := strings.Cut(args, " ")
	description = strings.TrimSpace(description)
	if actionArg == "" || description == "" {
		b.reply(chatID, msg.MessageID, "Usage: /add <action[:duration]> <description>")
		return
	}

	action, duration, err := parseActionArg(actionArg)
	if err != nil {
		b.reply(chatID, msg.MessageID, err.Error())
		return
	}

	rule, err := b.admin.AddRule(ctx, rules.AddSpec{
		Description: description,
		Action:      action,
		Duration:    duration,
		ChatID:      strconv.FormatInt(chatID, 10),
		Origin:      rules.OriginAdmin,
	})
	if err != nil {
		b.logger.Error("add rule command failed", "chat_id", chatID, "error", err)
		if wardenerr.IsInvalidInput(err) {
			b.reply(chatID, msg.MessageID, "Could not add rule: "+err.Error())
		} else {
			b.reply(chatID, msg.MessageID, "Could not add rule, try again later.")
		}
		return
	}
	b.reply(chatID, msg.MessageID, "Rule added: "+formatRule(rule))
}

func (b *Bot) cmdRemove(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		b.reply(chatID, msg.MessageID, "Usage: /remove <rule-id>")
		return
	}

	if err := b.admin.RemoveRule(ctx, id); err != nil {
		if wardenerr.IsNotFound(err) {
			b.reply(chatID, msg.MessageID, "No rule with id "+id)
		} else {
			b.logger.Error("remove rule command failed", "rule_id", id, "error", err)
			b.reply(chatID, msg.MessageID, "Could not remove rule, try again later.")
		}
		return
	}
	b.reply(chatID, msg.MessageID, "Rule removed: "+id)
}

func (b *Bot) cmdRules(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	listed := b.admin.ListRules(ctx, strconv.FormatInt(chatID, 10))
	if len(listed) == 0 {
		b.reply(chatID, msg.MessageID, "No rules are active in this chat.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Active rules:\n")
	for _, r := range listed {
		sb.WriteString("• " + formatRule(r) + "\n")
	}
	b.reply(chatID, msg.MessageID, sb.String())
}

// parseActionArg parses "action" or "action:duration", e.g. "mute:10m".
func parseActionArg(arg string) (types.Action, time.Duration, error) {
	name, durArg, hasDur := strings.Cut(arg, ":")

	action, ok := types.ParseAction(name)
	if !ok || action == types.ActionNone {
		return "", 0, wardenerr.Errorf(wardenerr.CodeCLIInputInvalid,
			"unknown action %q, use warn|delete|mute|ban", name)
	}

	if !hasDur {
		return action, 0, nil
	}
	dur, err := time.ParseDuration(durArg)
	if err != nil || dur <= 0 {
		return "", 0, wardenerr.Errorf(wardenerr.CodeCLIInputInvalid,
			"bad duration %q, use forms like 10m or 2h", durArg)
	}
	if action != types.ActionMute && action != types.ActionBan {
		return "", 0, wardenerr.Errorf(wardenerr.CodeCLIInputInvalid,
			"a duration only applies to mute or ban")
	}
	return action, dur, nil
}
