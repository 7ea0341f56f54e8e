package telegram

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"meal-assistant/internal/app"
	"meal-assistant/internal/config"
	"meal-assistant/internal/generation"
	"meal-assistant/internal/grocery"
	"meal-assistant/internal/metrics"
	"meal-assistant/internal/plan"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// resetConfirmTTL bounds how long a /reset confirmation stays answerable.
const resetConfirmTTL = 5 * time.Minute

// Bot wraps the Telegram API and the assistant application.
type Bot struct {
	api     *tgbotapi.BotAPI
	app     *app.App
	cfg     *config.Config
	pending *PendingActionRepository
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, application *app.App) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	wh, _ := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	resp, err := bot.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	log.Printf("Webhook set response: %s", resp.Description)

	return &Bot{
		api:     bot,
		app:     application,
		cfg:     cfg,
		pending: NewPendingActionRepository(application.DB.SQL),
	}, nil
}

// RegisterHandlers registers the webhook handler with the default HTTP mux.
func (b *Bot) RegisterHandlers() {
	http.HandleFunc("/webhook", b.handleWebhook)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		log.Printf("Error parsing update: %v", err)
		return
	}

	if update.CallbackQuery != nil {
		if b.isAllowed(update.CallbackQuery.From.ID) {
			b.handleCallbackQuery(update.CallbackQuery)
		}
		return
	}

	if update.Message == nil {
		return
	}

	if !b.isAllowed(update.Message.From.ID) {
		log.Printf("Unauthorized access attempt from UserID: %d (@%s)", update.Message.From.ID, update.Message.From.UserName)
		return
	}

	go b.processMessage(update.Message)
}

func (b *Bot) isAllowed(userID int64) bool {
	for _, id := range b.cfg.TelegramAllowedUserIDs {
		if userID == id {
			return true
		}
	}
	return false
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	ctx := context.Background()

	switch {
	case msg.Text == "/start" || msg.Text == "/help":
		b.sendMarkdown(msg.Chat.ID, helpText)
	case msg.Text == "/plan":
		b.handleShowPlan(ctx, msg.Chat.ID)
	case msg.Text == "/groceries":
		b.handleShowGroceries(ctx, msg.Chat.ID)
	case msg.Text == "/reset":
		b.handleResetRequest(ctx, msg.Chat.ID)
	case msg.Text == "/metrics":
		b.handleMetricsRequest(msg)
	case strings.HasPrefix(msg.Text, "http://") || strings.HasPrefix(msg.Text, "https://"):
		b.handleClipRequest(ctx, msg)
	default:
		b.handlePlanRequest(ctx, msg)
	}
}

const helpText = `👋 *Meal Assistant*

Send me a request like "plan a week of quick vegetarian dinners" and I will build a meal plan and its grocery list.

• Send a recipe URL to clip it into the current plan
• /plan shows the current meal plan
• /groceries shows the grocery list
• /reset wipes the household profile (asks first)`

// --- plan generation ---

func (b *Bot) handlePlanRequest(ctx context.Context, msg *tgbotapi.Message) {
	sentMsg, err := b.sendMarkdown(msg.Chat.ID, "🧑‍🍳 *Thinking...* \n(Generating your meal plan)")
	if err != nil {
		log.Printf("Failed to send initial reply: %v", err)
		return
	}

	if _, err := b.app.Chat.Append(ctx, "user", msg.Text); err != nil {
		log.Printf("Warning: failed to record chat message: %v", err)
	}

	log.Printf("Generating plan for request: %s", msg.Text)
	p, err := b.app.GeneratePlan(ctx, msg.Text)
	if err != nil {
		b.editWithError(msg.Chat.ID, sentMsg.MessageID, "Error generating plan", err)
		return
	}

	planText := formatPlanMarkdown(p)
	b.editMarkdown(msg.Chat.ID, sentMsg.MessageID, planText)

	if _, err := b.app.Chat.Append(ctx, "assistant", planText); err != nil {
		log.Printf("Warning: failed to record chat message: %v", err)
	}

	list, err := b.app.Groceries.CurrentForPlan(ctx, p.ID)
	if err != nil {
		log.Printf("Warning: no grocery list to send for plan %d: %v", p.ID, err)
		return
	}
	b.sendMarkdown(msg.Chat.ID, formatGroceriesMarkdown(list))
}

func (b *Bot) handleShowPlan(ctx context.Context, chatID int64) {
	p, err := b.app.Plans.Current(ctx)
	if err != nil {
		b.sendError(chatID, "No plan to show", err)
		return
	}
	b.sendMarkdown(chatID, formatPlanMarkdown(p))
}

func (b *Bot) handleShowGroceries(ctx context.Context, chatID int64) {
	p, err := b.app.Plans.Current(ctx)
	if err != nil {
		b.sendError(chatID, "No plan to show groceries for", err)
		return
	}
	list, err := b.app.Groceries.CurrentForPlan(ctx, p.ID)
	if err != nil {
		b.sendError(chatID, "No grocery list yet", err)
		return
	}
	b.sendMarkdown(chatID, formatGroceriesMarkdown(list))
}

// --- clipping ---

func (b *Bot) handleClipRequest(ctx context.Context, msg *tgbotapi.Message) {
	sentMsg, err := b.sendMarkdown(msg.Chat.ID, "✂️ *Clipping recipe...* \n(Extracting and adding to your plan)")
	if err != nil {
		log.Printf("Failed to send initial reply: %v", err)
		return
	}

	m, err := b.app.ClipAndAddMeal(ctx, msg.Text)
	if err != nil {
		log.Printf("Error clipping recipe: %v", err)
		b.editWithError(msg.Chat.ID, sentMsg.MessageID, "Error clipping recipe", err)
		return
	}
	b.editMarkdown(msg.Chat.ID, sentMsg.MessageID,
		fmt.Sprintf("✅ *Added to your plan!*\n\n*%s*\n_%s_", m.Name, m.Description))
}

// --- reset confirmation ---

// handleResetRequest never resets directly. It parks a pending action and
// asks; the destructive step only runs from the confirm callback.
func (b *Bot) handleResetRequest(ctx context.Context, chatID int64) {
	if err := b.pending.CleanupExpired(ctx); err != nil {
		log.Printf("Warning: failed to clean up expired pending actions: %v", err)
	}

	id, err := b.pending.Create(ctx, chatID, "reset_household", ActionContext{}, resetConfirmTTL)
	if err != nil {
		b.sendError(chatID, "Could not start reset", err)
		return
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚠️ Yes, reset everything", fmt.Sprintf("confirm|%d", id)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", fmt.Sprintf("cancel|%d", id)),
		),
	)

	reply := tgbotapi.NewMessage(chatID,
		"🗑 *Reset household?*\nThis wipes the household profile and chat history. Meal plans stay but the assistant forgets who it is planning for.")
	reply.ParseMode = "Markdown"
	reply.ReplyMarkup = keyboard
	b.api.Send(reply)
}

func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	ctx := context.Background()

	parts := strings.Split(query.Data, "|")
	if len(parts) < 2 {
		return
	}
	action := parts[0]
	pendingID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	// Answer callback to remove spinner
	b.api.Request(tgbotapi.NewCallback(query.ID, ""))

	pending, err := b.pending.GetActive(ctx, query.Message.Chat.ID)
	if err != nil {
		log.Printf("Error reading pending action: %v", err)
		return
	}
	if pending == nil || pending.ID != pendingID {
		b.editMarkdown(query.Message.Chat.ID, query.Message.MessageID, "⌛ This confirmation expired. Send /reset again if you still want to.")
		return
	}

	if err := b.pending.Delete(ctx, pending.ID); err != nil {
		log.Printf("Warning: failed to delete pending action %d: %v", pending.ID, err)
	}

	if action != "confirm" {
		b.editMarkdown(query.Message.Chat.ID, query.Message.MessageID, "👍 Cancelled. Nothing was changed.")
		return
	}

	switch pending.Action {
	case "reset_household":
		if _, err := b.app.ResetHousehold(ctx); err != nil {
			b.editWithError(query.Message.Chat.ID, query.Message.MessageID, "Error resetting household", err)
			return
		}
		b.editMarkdown(query.Message.Chat.ID, query.Message.MessageID,
			"🧹 *Household reset.* Tell me about your household to start over.")
	default:
		log.Printf("Unknown pending action %q for chat %d", pending.Action, pending.ChatID)
	}
}

// --- metrics ---

func (b *Bot) handleMetricsRequest(msg *tgbotapi.Message) {
	if msg.From.ID != b.cfg.AdminTelegramID {
		b.sendMarkdown(msg.Chat.ID, "⛔ *Access Denied*: Admin only.")
		return
	}
	b.handleMetricsCommand(msg.Chat.ID)
}

func (b *Bot) handleMetricsCommand(chatID int64) {
	usage, err := b.app.Metrics.GetDailyUsage(7)
	if err != nil {
		b.api.Send(tgbotapi.NewMessage(chatID, "❌ Error fetching metrics."))
		return
	}

	health := metrics.Snapshot(filepath.Dir(b.cfg.DatabasePath))

	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d calls)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• Heap: %dMB in use, %dMB from OS\n", health.HeapAllocMB, health.HeapSysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Data on disk: %s\n", health.DataDirUsage))

	b.sendMarkdown(chatID, sb.String())
}

// --- formatting ---

func formatPlanMarkdown(p plan.MealPlan) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📅 *%s*\n", p.Name))
	if p.SpecialNotes != "" {
		sb.WriteString(fmt.Sprintf("_%s_\n", p.SpecialNotes))
	}
	sb.WriteString("\n")

	if len(p.Meals) == 0 {
		sb.WriteString("_No meals yet. Send me a request to fill it._\n")
		return sb.String()
	}

	for _, m := range p.Meals {
		sb.WriteString(fmt.Sprintf("*%s*", m.Name))
		if m.PrepTime > 0 {
			sb.WriteString(fmt.Sprintf(" (%d min)", m.PrepTime))
		}
		sb.WriteString("\n")
		if m.Category != "" {
			sb.WriteString(fmt.Sprintf("_%s_", m.Category))
			if m.Servings > 0 {
				sb.WriteString(fmt.Sprintf(" · serves %d", m.Servings))
			}
			sb.WriteString("\n")
		}
		if m.Description != "" {
			sb.WriteString(m.Description + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatGroceriesMarkdown(list grocery.List) string {
	var sb strings.Builder
	sb.WriteString("🛒 *Grocery List*\n\n")

	empty := true
	for _, section := range list.Sections {
		if len(section.Items) == 0 {
			continue
		}
		empty = false
		sb.WriteString(fmt.Sprintf("*%s*\n", section.Name))
		for _, item := range section.Items {
			mark := "•"
			if item.Checked {
				mark = "✅"
			}
			if item.Quantity != "" {
				sb.WriteString(fmt.Sprintf("%s %s (%s)\n", mark, item.Name, item.Quantity))
			} else {
				sb.WriteString(fmt.Sprintf("%s %s\n", mark, item.Name))
			}
		}
		sb.WriteString("\n")
	}
	if empty {
		sb.WriteString("_Nothing on the list yet._\n")
	}
	return sb.String()
}

// --- send helpers ---

func (b *Bot) sendMarkdown(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	return b.api.Send(msg)
}

func (b *Bot) editMarkdown(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) editWithError(chatID int64, messageID int, title string, err error) {
	b.editMarkdown(chatID, messageID, formatError(title, err))
}

func (b *Bot) sendError(chatID int64, title string, err error) {
	b.sendMarkdown(chatID, formatError(title, err))
}

// formatError prefers the guidance message on classified generation
// failures over raw error text.
func formatError(title string, err error) string {
	if genErr, ok := generation.AsError(err); ok {
		return fmt.Sprintf("❌ *%s:*\n%s", title, genErr.Guidance())
	}
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return fmt.Sprintf("❌ *%s:*\n```\n%v\n```", title, safeErr)
}
