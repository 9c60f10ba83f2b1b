// Package notify delivers offers to drivers and order updates to clients, and waits for
// driver replies.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

// ErrNoSession is returned by a transport that cannot reach the endpoint at all.
// The gateway moves to the next transport without retrying.
var ErrNoSession = errors.New("no session for endpoint")

// Transport pushes an offer to a driver app.
type Transport interface {
	Name() string
	SendOffer(ctx context.Context, ep models.Endpoint, offer models.Offer) error
}

// ClientNotifier is implemented by transports that can also reach clients.
type ClientNotifier interface {
	NotifyClient(ctx context.Context, ev models.OrderEvent) error
}

type GatewayConfig struct {
	// SendTimeout bounds one delivery attempt. It is much shorter than the acceptance window.
	SendTimeout  time.Duration
	SendAttempts int
	RetryDelay   time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{SendTimeout: 5 * time.Second, SendAttempts: 2, RetryDelay: 200 * time.Millisecond}
}

type Gateway struct {
	hub        *Hub
	transports []Transport
	cfg        GatewayConfig
	logger     *slog.Logger
}

func NewGateway(hub *Hub, cfg GatewayConfig, logger *slog.Logger, transports ...Transport) *Gateway {
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultGatewayConfig().SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{hub: hub, transports: transports, cfg: cfg, logger: logger.With("component", "notify_gateway")}
}

func (g *Gateway) Hub() *Hub { return g.hub }

// SendOfferAndAwaitResponse pushes offer to ep and waits for the reply until deadline.
// A delivery failure returns ReplyDeliveryFailed with the cause; a cancelled ctx returns ctx.Err().
// A reply the hub accepted before the offer closed always wins over the deadline; later replies
// are refused with ErrOfferClosed.
func (g *Gateway) SendOfferAndAwaitResponse(ctx context.Context, ep models.Endpoint, offer models.Offer, deadline time.Time) (models.Reply, error) {
	// register first so an instant reply is not lost
	replies, closeOffer := g.hub.Register(offer.OfferID, ep)
	defer closeOffer()

	sent := time.Now()
	if err := g.deliver(ctx, ep, offer, deadline); err != nil {
		if ctx.Err() != nil {
			return models.ReplyTimedOut, ctx.Err()
		}
		return models.ReplyDeliveryFailed, err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case accept := <-replies:
		return replyOf(accept, sent), nil
	case <-timer.C:
		closeOffer()
		// a reply the hub acknowledged before the close still counts
		select {
		case accept := <-replies:
			return replyOf(accept, sent), nil
		default:
		}
		return models.ReplyTimedOut, nil
	case <-ctx.Done():
		closeOffer()
		select {
		case accept := <-replies:
			return replyOf(accept, sent), nil
		default:
		}
		return models.ReplyTimedOut, ctx.Err()
	}
}

func replyOf(accept bool, sent time.Time) models.Reply {
	observability.OfferWait.Observe(time.Since(sent).Seconds())
	if accept {
		return models.ReplyAccepted
	}
	return models.ReplyRejected
}

// deliver tries each transport in order, retrying transient failures with a doubling delay.
func (g *Gateway) deliver(ctx context.Context, ep models.Endpoint, offer models.Offer, deadline time.Time) error {
	if len(g.transports) == 0 {
		return fmt.Errorf("deliver offer %s: no transports configured", offer.OfferID)
	}
	var failures []error
	for _, t := range g.transports {
		err := g.sendWithRetry(ctx, t, ep, offer, deadline)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) {
			observability.NotificationErrors.WithLabelValues(t.Name()).Inc()
			g.logger.WarnContext(ctx, "offer delivery failed", "transport", t.Name(), "driver_id", ep.DriverID, "offer_id", offer.OfferID, "error", err)
		}
		failures = append(failures, fmt.Errorf("%s: %w", t.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("deliver offer %s: %w", offer.OfferID, errors.Join(failures...))
}

func (g *Gateway) sendWithRetry(ctx context.Context, t Transport, ep models.Endpoint, offer models.Offer, deadline time.Time) error {
	delay := g.cfg.RetryDelay
	var err error
	for i := 0; i < g.cfg.SendAttempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
		if d, ok := attemptCtx.Deadline(); !ok || deadline.Before(d) {
			cancel()
			attemptCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		err = t.SendOffer(attemptCtx, ep, offer)
		cancel()
		if err == nil || errors.Is(err, ErrNoSession) {
			return err
		}
		if i == g.cfg.SendAttempts-1 || !time.Now().Add(delay).Before(deadline) {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

// NotifyClient tells the client about an order update on every transport that can reach clients.
// Failures are logged only.
func (g *Gateway) NotifyClient(ctx context.Context, ev models.OrderEvent) {
	for _, t := range g.transports {
		cn, ok := t.(ClientNotifier)
		if !ok {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
		err := cn.NotifyClient(sendCtx, ev)
		cancel()
		if err != nil && !errors.Is(err, ErrNoSession) {
			observability.NotificationErrors.WithLabelValues(t.Name()).Inc()
			g.logger.WarnContext(ctx, "client notification failed", "transport", t.Name(), "order_id", ev.OrderID, "event", ev.Type, "error", err)
		}
	}
}
