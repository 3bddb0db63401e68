package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Synternet/bondingcurve-indexer/internal/indexer"
	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

const (
	DefaultPrefix = "synternet"
	DefaultName   = "bondingcurve"

	flushTimeout = 5 * time.Second
)

var _ indexer.SnapshotPublisher = (*Publisher)(nil)

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithNats publishes through conn. A nil connection disables NATS publishing.
func WithNats(conn *nats.Conn) Option {
	return func(p *Publisher) {
		p.conn = conn
	}
}

func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

func WithName(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.name = name
		}
	}
}

// WithSocket mirrors every snapshot to a length-prefixed unix socket stream.
func WithSocket(socket *Socket) Option {
	return func(p *Publisher) {
		p.socket = socket
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Publisher) {
		p.registerer = reg
	}
}

// Publisher emits persisted snapshots and run summaries as JSON on {prefix}.{name}.> subjects.
type Publisher struct {
	logger     *slog.Logger
	conn       *nats.Conn
	socket     *Socket
	prefix     string
	name       string
	registerer prometheus.Registerer

	snapshotCounter   atomic.Uint64
	runCounter        atomic.Uint64
	publishedMessages atomic.Uint64
	errCounter        atomic.Uint64

	messagesCounter prometheus.Counter
	errorsCounter   prometheus.Counter
}

func New(opts ...Option) *Publisher {
	ret := &Publisher{
		logger: slog.Default(),
		prefix: DefaultPrefix,
		name:   DefaultName,
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.logger = ret.logger.With("module", "publisher")

	factory := promauto.With(ret.registerer)
	ret.messagesCounter = factory.NewCounter(prometheus.CounterOpts{
		Name: "bondingcurve_indexer_messages_published",
		Help: "The total number of messages published",
	})
	ret.errorsCounter = factory.NewCounter(prometheus.CounterOpts{
		Name: "bondingcurve_indexer_publish_errors",
		Help: "The total number of messages that failed to publish",
	})
	return ret
}

// Subject builds "{prefix}.{name}.{suffixes}".
func (p *Publisher) Subject(suffixes ...string) string {
	parts := append([]string{p.prefix, p.name}, suffixes...)
	return strings.Join(parts, ".")
}

func (p *Publisher) PublishSnapshot(msg types.SnapshotMessage) error {
	p.snapshotCounter.Add(1)
	if p.socket != nil {
		if err := p.socket.Publish(msg); err != nil {
			p.logger.Warn("Failed writing snapshot to unix socket", "token", msg.Token, "err", err)
		}
	}
	return p.publish(msg, "snapshot", msg.Token)
}

func (p *Publisher) PublishRun(msg types.RunResponse) error {
	p.runCounter.Add(1)
	return p.publish(msg, "run")
}

func (p *Publisher) publish(msg any, suffixes ...string) error {
	if p.conn == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.fail()
		return fmt.Errorf("failed marshalling message: %w", err)
	}
	subject := p.Subject(suffixes...)
	if err := p.conn.Publish(subject, data); err != nil {
		p.fail()
		return fmt.Errorf("failed publishing to %s: %w", subject, err)
	}
	p.publishedMessages.Add(1)
	p.messagesCounter.Inc()
	return nil
}

func (p *Publisher) fail() {
	p.errCounter.Add(1)
	p.errorsCounter.Inc()
}

func (p *Publisher) GetStatus() map[string]any {
	status := map[string]any{
		"snapshots": p.snapshotCounter.Load(),
		"runs":      p.runCounter.Load(),
		"published": p.publishedMessages.Load(),
		"errors":    p.errCounter.Load(),
		"nats":      p.conn != nil && p.conn.IsConnected(),
	}
	if p.socket != nil {
		status["socket"] = p.socket.Addr()
	}
	return status
}

// Close flushes pending NATS messages and closes the socket. The connection itself belongs to the caller.
func (p *Publisher) Close() error {
	p.logger.Info("Publisher.Close")
	var errArr []error
	if p.conn != nil && p.conn.IsConnected() {
		if err := p.conn.FlushTimeout(flushTimeout); err != nil {
			errArr = append(errArr, fmt.Errorf("failure during NATS flush: %w", err))
		}
	}
	if p.socket != nil {
		if err := p.socket.Close(); err != nil {
			errArr = append(errArr, fmt.Errorf("failure during socket Close: %w", err))
		}
	}
	err := errors.Join(errArr...)
	p.logger.Info("Publisher.Close DONE", "err", err)
	return err
}
