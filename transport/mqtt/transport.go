// Package mqtt serves the protocol handler over an MQTT broker: the
// coordinator publishes instructions on a per-client topic and the client
// answers on the matching replies topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/flclient/client"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/absmach/flclient/pkg/metrics"
	pkgmqtt "github.com/absmach/flclient/pkg/mqtt"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize          = 16
	defaultLivelinessInterval = 10 * time.Second

	statusOnline  = "online"
	statusAlive   = "alive"
	statusOffline = "offline"
)

var errQueueFull = errors.New("instruction queue is full")

// Dialer connects to the broker at address.
type Dialer func(ctx context.Context, address string) (pkgmqtt.PubSub, error)

type Config struct {
	DomainID           string
	ChannelID          string
	CID                int
	InstanceID         string
	LivelinessInterval time.Duration
	QueueSize          int
}

type Transport struct {
	cfg    Config
	topics *pkgmqtt.TopicBuilder
	codec  fl.Codec
	dial   Dialer
	logger *slog.Logger
}

var _ client.Transport = (*Transport)(nil)

func New(cfg Config, codec fl.Codec, dial Dialer, logger *slog.Logger) *Transport {
	if cfg.LivelinessInterval <= 0 {
		cfg.LivelinessInterval = defaultLivelinessInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = namegenerator.NewGenerator().Generate()
	}

	return &Transport{
		cfg:    cfg,
		topics: pkgmqtt.NewTopicBuilder(cfg.DomainID, cfg.ChannelID),
		codec:  codec,
		dial:   dial,
		logger: logger,
	}
}

// NewDialer returns a Dialer backed by the paho client. The last will
// marks this client offline on its alive topic.
func NewDialer(base pkgmqtt.Config, cfg Config, logger *slog.Logger) Dialer {
	return func(_ context.Context, address string) (pkgmqtt.PubSub, error) {
		c := base
		c.URL = address
		if c.ID == "" {
			c.ID = "flclient-" + namegenerator.NewGenerator().Generate()
		}
		cid := strconv.Itoa(cfg.CID)
		c.WillTopic = pkgmqtt.NewTopicBuilder(cfg.DomainID, cfg.ChannelID).AliveTopic(cid)
		c.WillPayload = presence{Status: statusOffline, CID: cfg.CID, InstanceID: cfg.InstanceID}

		return pkgmqtt.NewPubSub(c, logger)
	}
}

// incoming is a received instruction, or the part of it that survived a
// failed decode together with the decode error.
type incoming struct {
	ins fl.Instruction
	err error
}

type presence struct {
	Status     string `json:"status"`
	CID        int    `json:"cid"`
	InstanceID string `json:"instance_id,omitempty"`
}

// Serve announces the client, then handles instructions one at a time until
// a disconnect instruction arrives or ctx is done.
func (t *Transport) Serve(ctx context.Context, address string, svc client.Service) error {
	ps, err := t.dial(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer func() {
		if err := ps.Disconnect(context.Background()); err != nil {
			t.logger.Warn("failed to disconnect from broker", slog.Any("error", err))
		}
	}()

	cid := strconv.Itoa(t.cfg.CID)
	queue := make(chan incoming, t.cfg.QueueSize)

	insTopic := t.topics.InstructionsTopic(cid)
	if err := ps.Subscribe(ctx, insTopic, t.enqueue(queue)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", insTopic, err)
	}
	defer func() {
		if err := ps.Unsubscribe(context.Background(), insTopic); err != nil {
			t.logger.Warn("failed to unsubscribe", slog.String("topic", insTopic), slog.Any("error", err))
		}
	}()

	if err := ps.Publish(ctx, t.topics.CreateTopic(cid), t.presence(statusOnline)); err != nil {
		return fmt.Errorf("failed to publish discovery message: %w", err)
	}
	t.logger.Info("discovery message published", slog.String("topic", t.topics.CreateTopic(cid)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.liveliness(gctx, ps, cid)

		return nil
	})
	g.Go(func() error {
		defer cancel()

		return t.loop(gctx, ps, svc, queue, cid)
	})

	return g.Wait()
}

func (t *Transport) enqueue(queue chan<- incoming) pkgmqtt.Handler {
	return func(topic string, payload []byte) error {
		ins, err := fl.DecodeInstruction(payload)
		if err != nil {
			t.logger.Warn("failed to decode instruction", slog.String("topic", topic), slog.String("id", ins.ID), slog.Any("error", err))
		}

		select {
		case queue <- incoming{ins: ins, err: err}:
			return nil
		default:
			return fmt.Errorf("instruction %s: %w", ins.ID, errQueueFull)
		}
	}
}

func (t *Transport) loop(ctx context.Context, ps pkgmqtt.PubSub, svc client.Service, queue <-chan incoming, cid string) error {
	d := client.Dispatcher{CID: t.cfg.CID, Codec: t.codec, Service: svc}
	replies := t.topics.RepliesTopic(cid)

	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-queue:
			ins := in.ins
			metrics.InstructionsTotal.WithLabelValues(cid, "mqtt", string(ins.Type)).Inc()
			var (
				reply fl.Reply
				done  bool
			)
			if in.err != nil {
				reply = d.Reject(ins, in.err)
			} else {
				reply, done = d.Handle(ctx, ins)
			}
			if reply.Error != "" {
				t.logger.Warn("instruction failed",
					slog.String("id", ins.ID),
					slog.String("type", string(ins.Type)),
					slog.String("error", reply.Error),
				)
			}
			if err := ps.Publish(ctx, replies, reply); err != nil {
				return fmt.Errorf("failed to publish reply %s: %w", ins.ID, err)
			}
			if done {
				t.logger.Info("coordinator requested disconnect", slog.String("id", ins.ID))

				return nil
			}
		}
	}
}

func (t *Transport) liveliness(ctx context.Context, ps pkgmqtt.PubSub, cid string) {
	ticker := time.NewTicker(t.cfg.LivelinessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ps.Publish(ctx, t.topics.AliveTopic(cid), t.presence(statusAlive)); err != nil {
				t.logger.Error("failed to publish liveliness message", slog.Any("error", err))

				continue
			}
			t.logger.Debug("published liveliness message")
		}
	}
}

func (t *Transport) presence(status string) presence {
	return presence{Status: status, CID: t.cfg.CID, InstanceID: t.cfg.InstanceID}
}
