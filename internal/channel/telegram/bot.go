// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package telegram adapts Telegram group chats onto the moderation core:
// incoming messages become envelopes for the batcher, final decisions
// become Telegram enforcement calls, and admin commands manage rules.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

const pollTimeoutSeconds = 30

// Ingestor is the batcher surface the bot feeds.
type Ingestor interface {
	Ingest(env *moderation.MessageEnvelope) error
}

// RuleAdmin is the rule management surface behind admin commands.
type RuleAdmin interface {
	AddRule(ctx context.Context, spec rules.AddSpec) (*rules.Rule, error)
	RemoveRule(ctx context.Context, id string) error
	ListRules(ctx context.Context, chatID string) []*rules.Rule
}

// Config holds the bot's credentials and admin allowlist.
type Config struct {
	Token    string
	AdminIDs []int64
	Debug    bool
}

// Bot is the Telegram platform adapter.
type Bot struct {
	cfg      Config
	ingestor Ingestor
	admin    RuleAdmin
	logger   *slog.Logger

	bot botAPI
}

// botAPI is the slice of tgbotapi.BotAPI the adapter uses, extracted so
// enforcement and command tests can fake the wire.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// New creates the adapter. The Telegram connection is established in Start.
func New(cfg Config, ingestor Ingestor, admin RuleAdmin) *Bot {
	return &Bot{
		cfg:      cfg,
		ingestor: ingestor,
		admin:    admin,
		logger:   slog.With("component", "telegram"),
	}
}

// Start connects to Telegram and polls for updates until the context is
// cancelled.
func (b *Bot) Start(ctx context.Context) error {
	api, err := tgbotapi.NewBotAPI(b.cfg.Token)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeChannelBackendFailure, "telegram bot init")
	}
	api.Debug = b.cfg.Debug
	b.bot = api
	b.logger.Info("telegram bot connected", "username", api.Self.UserName, "id", api.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := b.bot.GetUpdatesChan(u)

	b.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram channel stopping")
			b.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	env := b.envelope(msg)
	if env.Text == "" && len(env.Images) == 0 {
		return
	}

	if err := b.ingestor.Ingest(env); err != nil {
		// Overload sheds the newest message; the loop keeps polling.
		b.logger.Warn("message not ingested",
			"chat_id", env.ChatID, "message_id", env.MessageID,
			"error", err, "code", wardenerr.CodeOf(err))
	}
}

// envelope converts a Telegram message into the domain envelope. Photo
// attachments resolve to direct download URLs; only the largest
// resolution of each photo is kept.
func (b *Bot) envelope(msg *tgbotapi.Message) *moderation.MessageEnvelope {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	env := &moderation.MessageEnvelope{
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		MessageID:  strconv.Itoa(msg.MessageID),
		Text:       text,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]string{
			"username": msg.From.UserName,
		},
	}

	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		if url, err := b.bot.GetFileDirectURL(largest.FileID); err == nil {
			env.Images = append(env.Images, moderation.ImagePayload{URL: url})
		} else {
			b.logger.Warn("resolving photo url failed",
				"message_id", env.MessageID, "error", err)
		}
	}

	return env
}

// OnDecision is the scheduler's decision handler: it enforces the action
// against Telegram. Matches scheduler.DecisionHandler.
func (b *Bot) OnDecision(_ context.Context, decision *moderation.FinalDecision) {
	if !decision.Enforceable() {
		return
	}
	if err := b.enforce(decision); err != nil {
		b.logger.Error("enforcement failed",
			"chat_id", decision.ChatID, "message_id", decision.MessageID,
			"action", decision.Action, "error", err)
		return
	}
	b.logger.Info("decision enforced",
		"chat_id", decision.ChatID, "user_id", decision.UserID,
		"message_id", decision.MessageID, "action", decision.Action,
		"rule_id", decision.RuleID)
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) reply(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	if _, err := b.bot.Send(msg); err != nil {
		b.logger.Warn("telegram send failed", "chat_id", chatID, "error", err)
	}
}

func formatRule(r *rules.Rule) string {
	scope := "global"
	if r.ChatID != "" {
		scope = "chat " + r.ChatID
	}
	line := fmt.Sprintf("%s [%s/%s, %s] %s", r.ID, r.Stage, r.Action, scope, r.Description)
	if d := r.EffectiveDuration(); d > 0 {
		line += " (" + d.String() + ")"
	}
	return strings.TrimSpace(line)
}
