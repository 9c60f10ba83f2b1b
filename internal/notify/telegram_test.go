package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxi-dispatch/internal/models"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []*bot.SendMessageParams
	answers  []*bot.AnswerCallbackQueryParams
}

func (f *fakeSender) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, params)
	return &tgmodels.Message{ID: len(f.messages)}, nil
}

func (f *fakeSender) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, params)
	return true, nil
}

func callbackUpdate(accountID int64, data string) *tgmodels.Update {
	return &tgmodels.Update{CallbackQuery: &tgmodels.CallbackQuery{ID: "cb-1", From: tgmodels.User{ID: accountID}, Data: data}}
}

func TestTelegramSendOfferButtons(t *testing.T) {
	sender := &fakeSender{}
	tr := NewTelegramTransport(sender, NewHub(), nil)
	dest := models.Coord{Lat: 55.76, Lon: 37.62}
	offer := models.Offer{OfferID: "of-1", Kind: models.KindRide, PickupAddress: "Tverskaya <1>", Destination: &dest, DistanceKm: 3.2, Price: 148, ExpiresAt: time.Now()}

	require.NoError(t, tr.SendOffer(context.Background(), models.Endpoint{DriverID: "d1", AccountID: 99}, offer))
	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, int64(99), msg.ChatID)
	assert.Contains(t, msg.Text, "Tverskaya &lt;1&gt;")
	assert.Contains(t, msg.Text, "Price: 148")

	kb, ok := msg.ReplyMarkup.(*tgmodels.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "offer:accept:of-1", kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "offer:reject:of-1", kb.InlineKeyboard[0][1].CallbackData)
}

func TestTelegramSendOfferWithoutAccount(t *testing.T) {
	tr := NewTelegramTransport(&fakeSender{}, NewHub(), nil)
	err := tr.SendOffer(context.Background(), models.Endpoint{DriverID: "d1"}, models.Offer{OfferID: "of-1"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTelegramCallbackResolvesOffer(t *testing.T) {
	sender := &fakeSender{}
	hub := NewHub()
	tr := NewTelegramTransport(sender, hub, nil)
	replies, closeOffer := hub.Register("of-1", models.Endpoint{DriverID: "d1", AccountID: 99})
	defer closeOffer()

	tr.HandleCallback(context.Background(), nil, callbackUpdate(99, "offer:reject:of-1"))
	assert.False(t, <-replies)
	require.Len(t, sender.answers, 1)
	assert.Equal(t, "Rejected", sender.answers[0].Text)

	tr.HandleCallback(context.Background(), nil, callbackUpdate(99, "offer:accept:of-1"))
	require.Len(t, sender.answers, 2)
	assert.Equal(t, "This offer has expired", sender.answers[1].Text)
}

func TestTelegramCallbackFromOtherAccount(t *testing.T) {
	sender := &fakeSender{}
	hub := NewHub()
	tr := NewTelegramTransport(sender, hub, nil)
	_, closeOffer := hub.Register("of-1", models.Endpoint{DriverID: "d1", AccountID: 99})
	defer closeOffer()

	tr.HandleCallback(context.Background(), nil, callbackUpdate(100, "offer:accept:of-1"))
	assert.Equal(t, 1, hub.Open())
	require.Len(t, sender.answers, 1)
	assert.Equal(t, "This offer is not available", sender.answers[0].Text)
}

func TestParseCallback(t *testing.T) {
	id, accept, err := parseCallback("offer:accept:abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.True(t, accept)

	for _, bad := range []string{"offer:accept:", "offer:maybe:abc", "other:accept:abc", "offer:"} {
		_, _, err := parseCallback(bad)
		assert.Error(t, err, bad)
	}
}

func TestTelegramNotifyClient(t *testing.T) {
	sender := &fakeSender{}
	tr := NewTelegramTransport(sender, NewHub(), nil)

	ev := models.OrderEvent{Type: models.EventOrderCancelled, OrderID: "ord-1", ClientID: 5, Reason: models.ReasonNoDriversAvailable}
	require.NoError(t, tr.NotifyClient(context.Background(), ev))
	require.Len(t, sender.messages, 1)
	assert.Equal(t, int64(5), sender.messages[0].ChatID)
	assert.Contains(t, sender.messages[0].Text, "no drivers available")

	require.NoError(t, tr.NotifyClient(context.Background(), models.OrderEvent{Type: models.EventOrderCreated, OrderID: "ord-2", ClientID: 5}))
	assert.Len(t, sender.messages, 1, "creation is acknowledged synchronously, not pushed")
}
