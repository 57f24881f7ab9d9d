package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"event-portal/internal/lib/logger/sl"
	"event-portal/internal/status"
	"event-portal/monitoring"

	"github.com/google/uuid"
	pubnub "github.com/pubnub/go/v7"
)

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	CipherKey    string
	UserID       string
	Channel      string
}

// envelope is how the event API publishes: one PubNub channel carries every
// topic, the topic name travels with the message.
type envelope struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// PubNub is a Channel backed by a single PubNub subscription shared by all views
// of the process.
type PubNub struct {
	*dispatcher

	log     *slog.Logger
	channel string

	pn       *pubnub.PubNub
	listener *pubnub.Listener

	mu          sync.Mutex
	connections int
	cancel      context.CancelFunc
}

func NewPubNub(ctx context.Context, log *slog.Logger, cfg PubNubConfig) (*PubNub, error) {
	const op = "push.NewPubNub"

	if cfg.SubscribeKey == "" || cfg.Channel == "" {
		return nil, fmt.Errorf("%s: subscribe key and channel are required", op)
	}

	if cfg.UserID == "" {
		cfg.UserID = "event-portal-" + uuid.NewString()
	}

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey
	pnCfg.CipherKey = cfg.CipherKey
	pnCfg.PNReconnectionPolicy = pubnub.PNExponentialPolicy

	ctx, cancel := context.WithCancel(ctx)
	p := &PubNub{
		dispatcher: newDispatcher(),
		log:        log.With(slog.String("component", "push"), slog.String("channel", cfg.Channel)),
		channel:    cfg.Channel,
		pn:         pubnub.NewPubNub(pnCfg),
		listener:   pubnub.NewListener(),
		cancel:     cancel,
	}
	p.pn.AddListener(p.listener)

	go p.listen(ctx)

	return p, nil
}

// Connect subscribes to the channel on the first call.
func (p *PubNub) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connections++
	if p.connections == 1 {
		p.pn.Subscribe().Channels([]string{p.channel}).Execute()
		p.log.Info("subscribed")
	}
	return nil
}

// Disconnect unsubscribes once the last connected view lets go.
func (p *PubNub) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connections == 0 {
		return
	}
	p.connections--
	if p.connections == 0 {
		p.pn.Unsubscribe().Channels([]string{p.channel}).Execute()
		p.log.Info("unsubscribed")
	}
}

func (p *PubNub) Subscribe(topic string, h Handler) Token {
	return p.subscribe(topic, h)
}

func (p *PubNub) Unsubscribe(t Token) {
	p.unsubscribe(t)
}

func (p *PubNub) OnStatus(h StatusHandler) Token {
	return p.onStatus(h)
}

// Close stops the listener and releases the PubNub client.
func (p *PubNub) Close() {
	p.cancel()
	p.pn.RemoveListener(p.listener)
	p.pn.UnsubscribeAll()
	p.pn.Destroy()
}

func (p *PubNub) listen(ctx context.Context) {
	for {
		select {
		case st := <-p.listener.Status:
			p.handleStatus(st)

		case msg := <-p.listener.Message:
			p.handleMessage(msg)

		// The SDK announces on every listener channel and blocks until read.
		// None of these carry event updates.
		case <-p.listener.Signal:
			p.log.Debug("ignored pubnub announcement", slog.String("kind", "signal"))
		case <-p.listener.Presence:
			p.log.Debug("ignored pubnub announcement", slog.String("kind", "presence"))
		case <-p.listener.MessageActionsEvent:
			p.log.Debug("ignored pubnub announcement", slog.String("kind", "message_action"))
		case <-p.listener.File:
			p.log.Debug("ignored pubnub announcement", slog.String("kind", "file"))
		case <-p.listener.UUIDEvent:
			p.log.Debug("ignored pubnub announcement", slog.String("kind", "uuid"))
		case <-p.listener.ChannelEvent:
			p.log.Debug("ignored pubnub announcement", slog.String("kind", "channel"))
		case <-p.listener.MembershipEvent:
			p.log.Debug("ignored pubnub announcement", slog.String("kind", "membership"))

		case <-ctx.Done():
			p.log.Info("listener stopped")
			return
		}
	}
}

func (p *PubNub) handleStatus(st *pubnub.PNStatus) {
	if st == nil {
		return
	}

	s := Status{Category: categoryOf(st.Category)}
	if s.Category == Disconnected || s.Category == Denied {
		s.Err = status.ErrPushDisrupted
		if st.ErrorData != nil {
			s.Err = fmt.Errorf("%w: %w", status.ErrPushDisrupted, st.ErrorData)
		}
	}
	monitoring.TrackPushStatus(string(s.Category))

	switch s.Category {
	case Connected, Reconnected:
		p.log.Info("pubnub status", slog.String("category", string(s.Category)))
	case Other:
		p.log.Debug("pubnub status", slog.Any("category", st.Category))
		return
	default:
		p.log.Warn("pubnub status", slog.String("category", string(s.Category)), sl.Err(s.Err))
	}
	p.notify(s)
}

func (p *PubNub) handleMessage(msg *pubnub.PNMessage) {
	if msg == nil || msg.Channel != p.channel {
		return
	}

	env, err := decodeEnvelope(msg.Message)
	if err != nil {
		p.log.Warn("dropping malformed message", sl.Err(err))
		return
	}
	if n := p.dispatch(env.Name, env.Payload); n == 0 {
		p.log.Debug("no handler for topic", slog.String("topic", env.Name))
	}
}

// decodeEnvelope accepts the message either as a JSON string or as the object
// PubNub already decoded.
func decodeEnvelope(message any) (envelope, error) {
	var raw []byte
	switch m := message.(type) {
	case nil:
		return envelope{}, errors.New("empty message")
	case string:
		raw = []byte(m)
	case []byte:
		raw = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return envelope{}, fmt.Errorf("re-encode message: %w", err)
		}
		raw = b
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Name == "" {
		return envelope{}, errors.New("envelope without name")
	}
	return env, nil
}

func categoryOf(c pubnub.StatusCategory) Category {
	switch c {
	case pubnub.PNConnectedCategory:
		return Connected
	case pubnub.PNReconnectedCategory:
		return Reconnected
	case pubnub.PNDisconnectedCategory,
		pubnub.PNTimeoutCategory,
		pubnub.PNReconnectionAttemptsExhausted:
		return Disconnected
	case pubnub.PNAccessDeniedCategory:
		return Denied
	default:
		return Other
	}
}
