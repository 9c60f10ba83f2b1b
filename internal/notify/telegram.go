package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/example/taxi-dispatch/internal/models"
)

// CallbackPrefix routes inline keyboard presses to HandleCallback.
const CallbackPrefix = "offer:"

// TelegramSender is the subset of *bot.Bot the transport needs.
type TelegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// TelegramTransport sends offers as chat messages with accept and reject buttons. Drivers and
// clients are addressed by their Telegram account id.
type TelegramTransport struct {
	sender TelegramSender
	hub    *Hub
	logger *slog.Logger
}

func NewTelegramTransport(sender TelegramSender, hub *Hub, logger *slog.Logger) *TelegramTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramTransport{sender: sender, hub: hub, logger: logger.With("component", "telegram")}
}

// Bind sets the sender once the bot exists. Call it before the bot starts polling.
func (t *TelegramTransport) Bind(sender TelegramSender) { t.sender = sender }

func (t *TelegramTransport) Name() string { return "telegram" }

func (t *TelegramTransport) SendOffer(ctx context.Context, ep models.Endpoint, offer models.Offer) error {
	if ep.AccountID == 0 {
		return ErrNoSession
	}
	keyboard := &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{
			{
				{Text: "Accept", CallbackData: CallbackPrefix + "accept:" + offer.OfferID},
				{Text: "Reject", CallbackData: CallbackPrefix + "reject:" + offer.OfferID},
			},
		},
	}
	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      ep.AccountID,
		Text:        formatOffer(offer),
		ParseMode:   tgmodels.ParseModeHTML,
		ReplyMarkup: keyboard,
	})
	return err
}

func (t *TelegramTransport) NotifyClient(ctx context.Context, ev models.OrderEvent) error {
	if ev.ClientID == 0 {
		return ErrNoSession
	}
	text, ok := clientText(ev)
	if !ok {
		return nil
	}
	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: ev.ClientID, Text: text})
	return err
}

// HandleCallback resolves an offer button press. It has the bot.HandlerFunc signature.
func (t *TelegramTransport) HandleCallback(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update == nil || update.CallbackQuery == nil {
		return
	}
	q := update.CallbackQuery
	offerID, accept, err := parseCallback(q.Data)
	answer := "Accepted"
	if !accept {
		answer = "Rejected"
	}
	if err == nil {
		err = t.hub.ResolveAccount(offerID, q.From.ID, accept)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrOfferClosed):
		answer = "This offer has expired"
	default:
		t.logger.WarnContext(ctx, "telegram callback rejected", "account_id", q.From.ID, "data", q.Data, "error", err)
		answer = "This offer is not available"
	}
	if _, err := t.sender.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: q.ID, Text: answer}); err != nil {
		t.logger.WarnContext(ctx, "answer callback failed", "error", err)
	}
}

// Options registers the callback handler on a bot being constructed.
func (t *TelegramTransport) Options() []bot.Option {
	return []bot.Option{bot.WithCallbackQueryDataHandler(CallbackPrefix, bot.MatchTypePrefix, t.HandleCallback)}
}

func parseCallback(data string) (offerID string, accept bool, err error) {
	rest, ok := strings.CutPrefix(data, CallbackPrefix)
	if !ok {
		return "", false, fmt.Errorf("unexpected callback %q", data)
	}
	action, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return "", false, fmt.Errorf("unexpected callback %q", data)
	}
	switch action {
	case "accept":
		return id, true, nil
	case "reject":
		return id, false, nil
	}
	return "", false, fmt.Errorf("unexpected callback action %q", action)
}

func formatOffer(o models.Offer) string {
	var b strings.Builder
	if o.Kind == models.KindDelivery {
		b.WriteString("<b>New delivery order</b>\n")
	} else {
		b.WriteString("<b>New ride order</b>\n")
	}
	fmt.Fprintf(&b, "From: %s\n", displayAddress(o.PickupAddress, o.Pickup))
	if o.Destination != nil {
		fmt.Fprintf(&b, "To: %s\n", displayAddress(o.DestinationAddress, *o.Destination))
	}
	if o.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", escapeHTML(o.Description))
	}
	if o.DistanceToPickupKm != nil {
		fmt.Fprintf(&b, "To pickup: %.2f km\n", *o.DistanceToPickupKm)
	}
	fmt.Fprintf(&b, "Distance: %.2f km\nPrice: %d\n", o.DistanceKm, o.Price)
	fmt.Fprintf(&b, "Answer before %s", o.ExpiresAt.Format("15:04:05"))
	return b.String()
}

func displayAddress(addr string, c models.Coord) string {
	if addr != "" {
		return escapeHTML(addr)
	}
	return fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lon)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }

func clientText(ev models.OrderEvent) (string, bool) {
	switch ev.Type {
	case models.EventOrderSearching:
		return fmt.Sprintf("Order %s: looking for a driver", ev.OrderID), true
	case models.EventOrderAssigned:
		return fmt.Sprintf("Order %s: driver found", ev.OrderID), true
	case models.EventOrderStarted:
		return fmt.Sprintf("Order %s: trip started", ev.OrderID), true
	case models.EventOrderCompleted:
		return fmt.Sprintf("Order %s: completed", ev.OrderID), true
	case models.EventOrderCancelled:
		switch ev.Reason {
		case models.ReasonNoDriversAvailable:
			return fmt.Sprintf("Order %s cancelled: no drivers available", ev.OrderID), true
		case models.ReasonNoDriverAccepted:
			return fmt.Sprintf("Order %s cancelled: no driver accepted", ev.OrderID), true
		case models.ReasonSearchTimeout:
			return fmt.Sprintf("Order %s cancelled: driver search timed out", ev.OrderID), true
		}
		return fmt.Sprintf("Order %s cancelled", ev.OrderID), true
	}
	return "", false
}
