// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_plant_care_bot/internal/config"
	"tg_plant_care_bot/internal/conversation"
	"tg_plant_care_bot/internal/domain"
	"tg_plant_care_bot/internal/logging"
)

type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type plantStore interface {
	Get(ctx context.Context, chatID int64) ([]domain.Plant, error)
	UpdateAt(ctx context.Context, chatID int64, index int, mutate func(*domain.Plant)) (domain.Plant, error)
	RemoveAt(ctx context.Context, chatID int64, index int) (domain.Plant, error)
	CountChats(ctx context.Context) (int64, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and the bot's feature dependencies.
type Client struct {
	api    botAPI
	plants plantStore
	engine *conversation.Engine
	logger *logrus.Entry
	now    func() time.Time
}

// NewClient initializes the Telegram bot with long polling and the update
// router.
func NewClient(cfg config.Config, plants plantStore, engine *conversation.Engine, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if plants == nil {
		return nil, errors.New("plant store is required")
	}
	if engine == nil {
		return nil, errors.New("conversation engine is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		plants: plants,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.api = tgBot
	return client, nil
}

// Start begins receiving updates via long polling until the context is
// canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.api.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	switch {
	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

// photoRef extracts the file id of the largest size of an attached photo.
func photoRef(msg *models.Message) string {
	if msg == nil || len(msg.Photo) == 0 {
		return ""
	}

	return msg.Photo[len(msg.Photo)-1].FileID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.Chat.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.Chat.ID
	default:
		return 0
	}
}

// Notify delivers an unsolicited message, used by the reminder scheduler.
// Unlike sendText it returns the error so the sweep can decide whether the
// reminder flag may be set.
func (c *Client) Notify(ctx context.Context, chatID int64, text string) error {
	if _, err := c.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	}); err != nil {
		return fmt.Errorf("notify chat %d: %w", chatID, err)
	}

	return nil
}

func (c *Client) sendText(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	if _, err := c.api.SendMessage(ctx, params); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_send_error",
			"chat_id": chatID,
		}).WithError(err).Error("failed to send message")
	}
}
