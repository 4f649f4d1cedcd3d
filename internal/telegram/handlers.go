package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_plant_care_bot/internal/domain"
	"tg_plant_care_bot/internal/logging"
	"tg_plant_care_bot/internal/store"
)

// Callback identifiers. These are persisted inside rendered keyboards, so
// they must stay stable across deployments.
const (
	cbList          = "listarPlantas"
	cbRegister      = "cadastrarPlanta"
	cbAbout         = "sobreBot"
	cbView          = "verPlanta"
	cbDelete        = "deletarPlanta"
	cbConfirmDelete = "confirmDeletar"
	cbWater         = "regarPlanta"
	cbBackToMenu    = "voltarMenu"
	cbBackToList    = "voltarListar"
)

const (
	msgMenuTitle      = "👇 Escolha uma opção:"
	msgRegisterHowTo  = "Para cadastrar, digite:\n`cadastrar [nome da planta]`"
	msgListTitle      = "🌱 *Suas Plantas Cadastradas:*"
	msgListEmpty      = "🚫 Você não tem plantas cadastradas ainda!"
	msgPlantNotFound  = "🚫 Planta não encontrada!"
	msgDeleteMissing  = "🚫 Planta inexistente para deletar."
	msgStoreError     = "😢 Erro no banco de dados! Tente novamente."
	msgConfirmDelete  = "Deseja realmente apagar a planta *%s*?"
	msgDeleted        = "🗑️ A planta *%s* foi deletada!"
	msgWateredByIndex = "✅ Planta *%s* regada agora.\n🔄 Próxima rega em: %d dia(s)"
	msgStatusOK       = "✅ Em dia"
	msgStatusOverdue  = "❌ Atrasada"
)

func (c *Client) handleMessage(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" && msg.Caption != "" {
		text = strings.TrimSpace(msg.Caption)
	}

	if strings.HasPrefix(strings.ToLower(text), "/start") || strings.EqualFold(text, "menu") {
		c.sendMainMenu(ctx, chatID)
		return
	}

	reply, handled := c.engine.HandleText(ctx, chatID, text, photoRef(msg))
	if !handled || reply == "" {
		// Not a registration or watering message; stay quiet instead of
		// spamming the chat.
		return
	}

	c.sendText(ctx, chatID, reply, nil)
}

func (c *Client) handleCallback(ctx context.Context, query *models.CallbackQuery) {
	// Always acknowledge first so the client stops showing a spinner.
	if _, err := c.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		c.logger.WithField("event", "callback_ack_error").WithError(err).Warn("failed to answer callback query")
	}

	chatID := messageChatID(query.Message)
	if chatID == 0 {
		return
	}

	data := strings.TrimSpace(query.Data)

	switch data {
	case cbList, cbBackToList:
		c.sendPlantList(ctx, chatID)
		return
	case cbRegister:
		c.sendText(ctx, chatID, msgRegisterHowTo, nil)
		return
	case cbAbout:
		c.sendAbout(ctx, chatID)
		return
	case cbBackToMenu:
		c.sendMainMenu(ctx, chatID)
		return
	}

	verb, index, ok := splitIndexed(data)
	if !ok {
		c.logger.WithFields(logging.Fields{
			"event":   "callback_unknown",
			"chat_id": chatID,
			"data":    data,
		}).Warn("ignoring unknown callback data")
		return
	}

	switch verb {
	case cbView:
		c.sendPlantDetail(ctx, chatID, index)
	case cbDelete:
		c.confirmDelete(ctx, chatID, index)
	case cbConfirmDelete:
		c.deletePlant(ctx, chatID, index)
	case cbWater:
		c.waterPlant(ctx, chatID, index)
	default:
		c.logger.WithFields(logging.Fields{
			"event":   "callback_unknown",
			"chat_id": chatID,
			"data":    data,
		}).Warn("ignoring unknown callback verb")
	}
}

// splitIndexed parses "verb_index" callback data.
func splitIndexed(data string) (string, int, bool) {
	verb, raw, found := strings.Cut(data, "_")
	if !found {
		return "", 0, false
	}

	index, err := strconv.Atoi(raw)
	if err != nil {
		return "", 0, false
	}

	return verb, index, true
}

func (c *Client) sendMainMenu(ctx context.Context, chatID int64) {
	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🌱 Plantas Cadastradas", CallbackData: cbList},
				{Text: "➕ Cadastrar Planta", CallbackData: cbRegister},
			},
			{
				{Text: "ℹ️ Sobre o Bot", CallbackData: cbAbout},
			},
		},
	}

	c.sendText(ctx, chatID, msgMenuTitle, keyboard)
}

func (c *Client) sendAbout(ctx context.Context, chatID int64) {
	about := "🤖 *Bot de Plantas*\n" +
		"Cadastre suas plantas, veja detalhes, regue, delete e receba lembretes diários!\n"

	if count, err := c.plants.CountChats(ctx); err == nil {
		about += fmt.Sprintf("👥 Jardineiros cadastrados: %d\n", count)
	}

	c.sendText(ctx, chatID, about, nil)
}

func (c *Client) sendPlantList(ctx context.Context, chatID int64) {
	plants, err := c.plants.Get(ctx, chatID)
	if err != nil {
		c.logStoreError(chatID, "list plants", err)
		c.sendText(ctx, chatID, msgStoreError, nil)
		return
	}
	if len(plants) == 0 {
		c.sendText(ctx, chatID, msgListEmpty, nil)
		return
	}

	rows := make([][]models.InlineKeyboardButton, 0, len(plants)+1)
	for i, plant := range plants {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "👀 " + plant.Nickname, CallbackData: fmt.Sprintf("%s_%d", cbView, i)},
			{Text: "🗑️", CallbackData: fmt.Sprintf("%s_%d", cbDelete, i)},
		})
	}
	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "⬅️ Voltar ao Menu", CallbackData: cbBackToMenu},
	})

	c.sendText(ctx, chatID, msgListTitle, &models.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (c *Client) sendPlantDetail(ctx context.Context, chatID int64, index int) {
	plants, err := c.plants.Get(ctx, chatID)
	if err != nil {
		c.logStoreError(chatID, "view plant", err)
		c.sendText(ctx, chatID, msgStoreError, nil)
		return
	}
	if index < 0 || index >= len(plants) {
		c.sendText(ctx, chatID, msgPlantNotFound, nil)
		return
	}

	plant := plants[index]
	detail := c.formatPlantDetail(plant)

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "💧 Regar", CallbackData: fmt.Sprintf("%s_%d", cbWater, index)},
				{Text: "⬅️ Voltar", CallbackData: cbBackToList},
			},
		},
	}

	if plant.HasPhotoURL() {
		_, err := c.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:      chatID,
			Photo:       &models.InputFileString{Data: plant.Photo},
			Caption:     detail,
			ParseMode:   models.ParseModeMarkdown,
			ReplyMarkup: keyboard,
		})
		if err == nil {
			return
		}
		c.logger.WithFields(logging.Fields{
			"event":   "photo_send_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send plant photo, falling back to text")
	}

	c.sendText(ctx, chatID, detail, keyboard)
}

func (c *Client) formatPlantDetail(plant domain.Plant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", plant.Nickname)
	fmt.Fprintf(&b, "🔬 Nome científico: %s\n", plant.ScientificName)
	fmt.Fprintf(&b, "⏰ Intervalo de rega: %s dia(s)\n", strconv.FormatFloat(plant.IntervalDays, 'f', -1, 64))

	last, err := plant.LastWateredAt()
	if err != nil {
		fmt.Fprintf(&b, "🕒 Última rega: %s\n", plant.LastWatered)
		return b.String()
	}
	fmt.Fprintf(&b, "🕒 Última rega: %s\n", last.Format("02/01/2006 15:04"))

	due := domain.NextDue(last, plant.IntervalDays)
	status := msgStatusOK
	if c.now().After(due) {
		status = msgStatusOverdue
	}
	fmt.Fprintf(&b, "📅 Próxima rega: %s (Status: %s)\n", due.Format("02/01/2006"), status)

	return b.String()
}

func (c *Client) confirmDelete(ctx context.Context, chatID int64, index int) {
	plants, err := c.plants.Get(ctx, chatID)
	if err != nil {
		c.logStoreError(chatID, "confirm delete", err)
		c.sendText(ctx, chatID, msgStoreError, nil)
		return
	}
	if index < 0 || index >= len(plants) {
		c.sendText(ctx, chatID, msgDeleteMissing, nil)
		return
	}

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Sim", CallbackData: fmt.Sprintf("%s_%d", cbConfirmDelete, index)},
				{Text: "Não", CallbackData: cbBackToList},
			},
		},
	}

	c.sendText(ctx, chatID, fmt.Sprintf(msgConfirmDelete, plants[index].Nickname), keyboard)
}

func (c *Client) deletePlant(ctx context.Context, chatID int64, index int) {
	removed, err := c.plants.RemoveAt(ctx, chatID, index)
	if err != nil {
		if errors.Is(err, store.ErrPlantNotFound) {
			c.sendText(ctx, chatID, msgDeleteMissing, nil)
			return
		}
		c.logStoreError(chatID, "delete plant", err)
		c.sendText(ctx, chatID, msgStoreError, nil)
		return
	}

	c.sendText(ctx, chatID, fmt.Sprintf(msgDeleted, removed.Nickname), nil)
	c.sendPlantList(ctx, chatID)
}

func (c *Client) waterPlant(ctx context.Context, chatID int64, index int) {
	now := c.now()
	updated, err := c.plants.UpdateAt(ctx, chatID, index, func(p *domain.Plant) {
		p.MarkWatered(now)
	})
	if err != nil {
		if errors.Is(err, store.ErrPlantNotFound) {
			c.sendText(ctx, chatID, msgPlantNotFound, nil)
			return
		}
		c.logStoreError(chatID, "water plant", err)
		c.sendText(ctx, chatID, msgStoreError, nil)
		return
	}

	days, err := updated.DaysUntil(now)
	if err != nil {
		c.logger.WithError(err).Error("failed to compute days until due after watering")
	}

	c.sendText(ctx, chatID, fmt.Sprintf(msgWateredByIndex, updated.Nickname, days), nil)
	c.sendPlantDetail(ctx, chatID, index)
}

func (c *Client) logStoreError(chatID int64, op string, err error) {
	c.logger.WithFields(logging.Fields{
		"event":   "plant_store_error",
		"chat_id": chatID,
		"op":      op,
	}).WithError(err).Error("plant store operation failed")
}
