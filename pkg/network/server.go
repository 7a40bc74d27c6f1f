// Copyright 2026 Scalaris Ledger
//
// The shard server: a TCP listener whose connections feed framed messages
// into a bounded queue, and a single actor goroutine that owns the worker
// state and runs every handler to completion. All account mutation is
// synchronous inside the actor; cross-shard effects leave through the
// reliable sender.

package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalaris-ledger/scalaris/pkg/authority"
	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

// DefaultQueueDepth bounds the shard actor queue; connection goroutines
// block (backpressure) when the actor falls behind.
const DefaultQueueDepth = 1000

// ShardAddresser maps a shard to its listen address.
type ShardAddresser func(shard base.ShardID) string

// task is one framed message awaiting the actor, with a reply slot.
type task struct {
	payload []byte
	reply   chan []byte
}

// Server runs one authority shard.
type Server struct {
	state     *authority.WorkerState
	address   string
	addresser ShardAddresser
	queue     chan task
	sender    *Sender
	metrics   *Metrics
	logger    cmtlog.Logger
}

// ServerOptions tunes a shard server.
type ServerOptions struct {
	QueueDepth int
	Metrics    *Metrics
	Logger     cmtlog.Logger
}

// NewServer builds a shard server listening on address. The addresser
// locates sibling shards for cross-shard deliveries.
func NewServer(state *authority.WorkerState, address string, addresser ShardAddresser, opts ServerOptions) *Server {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry(), uint32(state.ShardID))
	}
	return &Server{
		state:     state,
		address:   address,
		addresser: addresser,
		queue:     make(chan task, depth),
		sender:    NewSender(metrics, logger),
		metrics:   metrics,
		logger:    logger.With("module", "server", "shard", state.ShardID),
	}
}

// Run listens and serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.address, err)
	}
	s.logger.Info("listening", "address", s.address)

	go s.actorLoop(ctx)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serveConnection(ctx, conn)
	}
}

// actorLoop is the single goroutine owning the worker state.
func (s *Server) actorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
			reply := s.handleMessage(ctx, t.payload)
			t.reply <- reply
		}
	}
}

func (s *Server) serveConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("connection closed", "err", err)
			}
			return
		}
		t := task{payload: payload, reply: make(chan []byte, 1)}
		select {
		case s.queue <- t:
		case <-ctx.Done():
			return
		}
		var reply []byte
		select {
		case reply = <-t.reply:
		case <-ctx.Done():
			return
		}
		if reply == nil {
			continue
		}
		if err := WriteFrame(conn, reply); err != nil {
			s.logger.Debug("write reply", "err", err)
			return
		}
	}
}

// handleMessage decodes one envelope, dispatches it to the worker state and
// encodes the reply. A nil return means no reply (cross-shard messages).
func (s *Server) handleMessage(ctx context.Context, payload []byte) []byte {
	msg, err := messages.DeserializeMessage(payload)
	if err != nil {
		s.metrics.HandlerErrors.WithLabelValues("decode").Inc()
		return s.encodeError(err)
	}
	switch m := msg.(type) {
	case *messages.RequestOrder:
		s.metrics.MessagesHandled.WithLabelValues("request_order").Inc()
		info, err := s.state.HandleRequestOrder(m)
		if err != nil {
			return s.encodeError(err)
		}
		return mustSerialize(info)
	case *messages.ConfirmationOrder:
		s.metrics.MessagesHandled.WithLabelValues("confirmation_order").Inc()
		info, continuation, err := s.state.HandleConfirmationOrder(m)
		if err != nil {
			return s.encodeError(err)
		}
		if continuation != nil {
			s.dispatchContinuations(ctx, []authority.CrossShardContinuation{*continuation})
		}
		return mustSerialize(info)
	case *messages.CoinCreationOrder:
		s.metrics.MessagesHandled.WithLabelValues("coin_creation_order").Inc()
		response, continuations, err := s.state.HandleCoinCreationOrder(m)
		if err != nil {
			return s.encodeError(err)
		}
		s.dispatchContinuations(ctx, continuations)
		return mustSerialize(response)
	case *messages.AccountInfoQuery:
		s.metrics.MessagesHandled.WithLabelValues("info_query").Inc()
		info, err := s.state.HandleAccountInfoQuery(m)
		if err != nil {
			return s.encodeError(err)
		}
		return mustSerialize(info)
	case *messages.PrimarySynchronizationOrder:
		s.metrics.MessagesHandled.WithLabelValues("primary_synchronization").Inc()
		info, err := s.state.HandlePrimarySynchronizationOrder(m)
		if err != nil {
			return s.encodeError(err)
		}
		return mustSerialize(info)
	case *messages.CrossShardRequest:
		s.metrics.MessagesHandled.WithLabelValues("cross_shard").Inc()
		if err := s.state.HandleCrossShardRequest(m); err != nil {
			// Cross-shard failures are loud: the sender retries at the
			// transport layer, not here.
			s.logger.Error("cross-shard request failed", "err", err)
		}
		return nil
	default:
		s.metrics.HandlerErrors.WithLabelValues("unexpected").Inc()
		return s.encodeError(base.NewError(base.CodeUnexpectedMessage))
	}
}

func (s *Server) dispatchContinuations(ctx context.Context, continuations []authority.CrossShardContinuation) {
	for _, continuation := range continuations {
		payload := mustSerialize(continuation.Request)
		address := s.addresser(continuation.ShardID)
		s.metrics.CrossShardSent.Inc()
		s.sender.Send(ctx, address, payload)
	}
}

func (s *Server) encodeError(err error) []byte {
	protoErr := base.AsProtocolError(err)
	if protoErr == nil {
		protoErr = base.NewError(base.CodeUnexpectedMessage)
	}
	s.metrics.HandlerErrors.WithLabelValues(fmt.Sprintf("%d", protoErr.Code)).Inc()
	return mustSerialize(protoErr)
}

func mustSerialize(msg any) []byte {
	payload, err := messages.SerializeMessage(msg)
	if err != nil {
		panic(fmt.Sprintf("serialize reply: %v", err))
	}
	return payload
}

// Sender delivers cross-shard messages with retries until the transport
// accepts them. Application-level acknowledgement is the successful
// processing on the receiving shard, which is idempotent.
type Sender struct {
	metrics *Metrics
	logger  cmtlog.Logger

	// RetryDelay between delivery attempts.
	RetryDelay time.Duration
	// MaxAttempts before giving up loudly.
	MaxAttempts int
}

// NewSender builds a reliable sender.
func NewSender(metrics *Metrics, logger cmtlog.Logger) *Sender {
	return &Sender{
		metrics:     metrics,
		logger:      logger.With("module", "cross-shard"),
		RetryDelay:  100 * time.Millisecond,
		MaxAttempts: 100,
	}
}

// Send delivers the payload asynchronously, retrying on connection errors.
func (s *Sender) Send(ctx context.Context, address string, payload []byte) {
	go func() {
		for attempt := 0; attempt < s.MaxAttempts; attempt++ {
			if ctx.Err() != nil {
				return
			}
			if attempt > 0 {
				s.metrics.CrossShardRetries.Inc()
				select {
				case <-time.After(s.RetryDelay):
				case <-ctx.Done():
					return
				}
			}
			if err := s.deliver(address, payload); err != nil {
				s.logger.Debug("cross-shard delivery failed", "address", address, "err", err)
				continue
			}
			return
		}
		// An undeliverable cross-shard message is fatal to progress on
		// the target account; make it loud.
		s.logger.Error("giving up on cross-shard delivery", "address", address, "attempts", s.MaxAttempts)
	}()
}

func (s *Sender) deliver(address string, payload []byte) error {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	return WriteFrame(conn, payload)
}
