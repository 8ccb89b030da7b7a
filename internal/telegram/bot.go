package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/clubpicks/subsbot/internal/config"
	boterrors "github.com/clubpicks/subsbot/internal/errors"
	"github.com/clubpicks/subsbot/internal/money"
	"github.com/clubpicks/subsbot/internal/reconcile"
	"github.com/clubpicks/subsbot/internal/records"
)

const planCallbackPrefix = "plan_"

// Reconciler is the purchase/validation engine the bot drives.
type Reconciler interface {
	InitiatePurchase(ctx context.Context, userID, chatID int64, username, planKind, discountCode string) (reconcile.PurchaseResult, error)
	ValidatePayment(ctx context.Context, userID int64) (reconcile.ValidationResult, error)
}

// Bot translates Telegram updates into reconciliation calls and renders the
// results back as chat messages. All state beyond the current conversation
// step lives in the record store.
type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      *config.Config
	svc      Reconciler
	store    records.Store
	sessions *sessionStore
	logger   zerolog.Logger
}

// New wires the bot against an authorized API client.
func New(api *tgbotapi.BotAPI, cfg *config.Config, svc Reconciler, store records.Store, logger zerolog.Logger) *Bot {
	return &Bot{
		api:      api,
		cfg:      cfg,
		svc:      svc,
		store:    store,
		sessions: newSessionStore(),
		logger:   logger,
	}
}

// Run consumes updates via long polling until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info().Str("mode", "polling").Msg("bot update loop started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// EnsureWebhook registers the webhook URL with Telegram. Used in webhook mode
// before the HTTP server starts accepting updates.
func (b *Bot) EnsureWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// HandleUpdate dispatches one update. Safe to call from the polling loop and
// from the webhook handler alike.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message == nil:
		// edits, channel posts and the like carry nothing actionable
	case update.Message.Contact != nil:
		b.handleContact(ctx, update.Message)
	case update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message.Text != "":
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(msg)
	case "validar_pago":
		b.handleValidate(ctx, msg)
	default:
		b.reply(msg.Chat.ID, "Comando no reconocido. Usa /start para comenzar.")
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) {
	b.sessions.reset(msg.From.ID)

	plans := b.cfg.EnabledPlans()
	if len(plans) == 0 {
		b.reply(msg.Chat.ID, "No hay planes disponibles en este momento. Intenta más tarde.")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(plans))
	for _, plan := range plans {
		label := fmt.Sprintf("💳 %s ($%s)", plan.Name, money.FormatUSD(plan.Amount))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, planCallbackPrefix+plan.Kind),
		))
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, "👋 ¡Bienvenido! Selecciona tu plan:")
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(out)
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.logger.Warn().Err(err).Msg("callback ack failed")
	}
	if !strings.HasPrefix(q.Data, planCallbackPrefix) || q.Message == nil {
		return
	}
	kind := strings.TrimPrefix(q.Data, planCallbackPrefix)
	chatID := q.Message.Chat.ID

	plan, ok := b.cfg.Plan(kind)
	if !ok || !plan.Enabled {
		// a stale keyboard can outlive an operator toggle
		b.edit(chatID, q.Message.MessageID, boterrors.ErrCodePlanUnavailable.Guidance())
		return
	}

	sess := b.sessions.get(q.From.ID)
	sess.Plan = plan.Kind
	sess.DiscountCode = ""

	if plan.AcceptsDiscounts {
		sess.Stage = stageAwaitingCode
		b.edit(chatID, q.Message.MessageID, fmt.Sprintf(
			"Seleccionaste %s ($%s).\n¿Tienes un código de descuento? Escríbelo, o escribe 'NO' si no tienes uno.",
			plan.Name, money.FormatUSD(plan.Amount)))
		return
	}

	sess.Stage = stageAwaitingPhone
	b.edit(chatID, q.Message.MessageID, fmt.Sprintf(
		"Seleccionaste %s ($%s). Ahora comparte tu número.",
		plan.Name, money.FormatUSD(plan.Amount)))
	b.askForPhone(chatID, "Pulsa el botón para compartir tu número:")
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	sess := b.sessions.get(msg.From.ID)
	if sess.Stage != stageAwaitingCode {
		return
	}

	sess.DiscountCode = normalizeCode(msg.Text)
	sess.Stage = stageAwaitingPhone
	b.askForPhone(msg.Chat.ID, "Perfecto 👍 Ahora comparte tu número para continuar.")
}

func (b *Bot) handleContact(ctx context.Context, msg *tgbotapi.Message) {
	contact := msg.Contact
	if contact.UserID != msg.From.ID {
		b.reply(msg.Chat.ID, "Comparte tu propio número.")
		return
	}

	sess := b.sessions.get(msg.From.ID)
	if sess.Plan == "" {
		b.reply(msg.Chat.ID, "Primero elige una suscripción con /start.")
		return
	}

	if err := b.store.AppendPhone(ctx, records.PhoneRecord{
		At:       time.Now().UTC(),
		UserID:   msg.From.ID,
		ChatID:   msg.Chat.ID,
		Username: msg.From.UserName,
		Phone:    contact.PhoneNumber,
	}); err != nil {
		b.logger.Error().Err(err).Int64("user_id", msg.From.ID).Msg("phone record append failed")
	}

	res, err := b.svc.InitiatePurchase(ctx, msg.From.ID, msg.Chat.ID, msg.From.UserName, sess.Plan, sess.DiscountCode)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", msg.From.ID).Str("plan", sess.Plan).Msg("purchase initiation failed")
		b.replyRemovingKeyboard(msg.Chat.ID, boterrors.CodeOf(err).Guidance())
		return
	}

	b.sessions.reset(msg.From.ID)
	b.replyRemovingKeyboard(msg.Chat.ID, purchaseMessage(res))
}

func (b *Bot) handleValidate(ctx context.Context, msg *tgbotapi.Message) {
	res, err := b.svc.ValidatePayment(ctx, msg.From.ID)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", msg.From.ID).Msg("payment validation failed")
		b.reply(msg.Chat.ID, boterrors.CodeOf(err).Guidance())
		return
	}
	b.reply(msg.Chat.ID, validationMessage(res, b.cfg.Location))
}

// purchaseMessage renders the payment link reply, prefixed with the discount
// confirmation or the invalid-code warning when applicable.
func purchaseMessage(res reconcile.PurchaseResult) string {
	var sb strings.Builder
	if res.Discount != nil {
		fmt.Fprintf(&sb, "✅ Código aplicado: %s (%d%% de descuento). Nuevo monto: $%s\nApoyaste al aliado.\n\n",
			res.Discount.Code, res.Discount.Percent, money.FormatUSD(res.Link.AmountUSD))
	} else if res.InvalidCode != "" {
		fmt.Fprintf(&sb, "⚠️ Código %s no válido. Se aplicará el precio normal ($%s).\n\n",
			res.InvalidCode, money.FormatUSD(res.Link.AmountUSD))
	}
	fmt.Fprintf(&sb, "💳 Enlace de pago:\n%s\n\nReferencia: %s\nMonto: $%s",
		res.Link.PayableURL, res.Link.Reference, money.FormatUSD(res.Link.AmountUSD))
	return sb.String()
}

// validationMessage renders the outcome of a /validar_pago check. The expiry
// is shown in the business timezone, matching what the user's clock says.
func validationMessage(res reconcile.ValidationResult, loc *time.Location) string {
	switch res.Outcome {
	case reconcile.OutcomeApproved:
		if loc == nil {
			loc = time.UTC
		}
		text := fmt.Sprintf("✅ Pago aprobado. Acceso válido hasta %s.",
			res.Expiry.In(loc).Format("2006-01-02 15:04"))
		if res.InviteURL != "" {
			text += fmt.Sprintf("\n\nLink de acceso (1 uso): %s", res.InviteURL)
		} else {
			text += "\n\nNo se pudo generar el link de acceso. Contacta a soporte."
		}
		return text
	case reconcile.OutcomePending:
		return "⌛ Aún pendiente. Intenta más tarde."
	case reconcile.OutcomeFailed:
		return "❌ El pago fue rechazado. Usa /start para generar un nuevo enlace."
	case reconcile.OutcomeNoLinkToday:
		return boterrors.ErrCodeNoLinkToday.Guidance()
	default:
		return "No pudimos confirmar el estado del pago todavía. Intenta de nuevo en unos minutos."
	}
}

// normalizeCode uppercases a typed discount code; 'NO' means none.
func normalizeCode(text string) string {
	code := strings.ToUpper(strings.TrimSpace(text))
	if code == "NO" {
		return ""
	}
	return code
}

func (b *Bot) askForPhone(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact("📱 COMPARTIR NÚMERO")),
	)
	b.send(out)
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyRemovingKeyboard(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	b.send(out)
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("message edit failed")
	}
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("message send failed")
	}
}
