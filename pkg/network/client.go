// Copyright 2026 Scalaris Ledger
//
// The network-side authority client: frames envelopes over TCP with
// caller-configured send and receive deadlines, and maps replies back into
// typed messages. Also the bulk client used by the benchmark harness.

package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/scalaris-ledger/scalaris/pkg/authority"
	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/client"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

// Client talks to one authority over the framed TCP transport. Each request
// opens a fresh connection; the sidechain protocol is one-shot
// request/reply.
type Client struct {
	// Addresser locates the authority's shard listeners.
	Addresser ShardAddresser
	// NumberOfShards of the authority.
	NumberOfShards uint32
	// SendTimeout and RecvTimeout bound each exchange.
	SendTimeout time.Duration
	RecvTimeout time.Duration
}

var _ client.AuthorityClient = (*Client)(nil)

// NewClient builds a network client for one authority.
func NewClient(addresser ShardAddresser, numberOfShards uint32, sendTimeout, recvTimeout time.Duration) *Client {
	if numberOfShards == 0 {
		numberOfShards = 1
	}
	return &Client{
		Addresser:      addresser,
		NumberOfShards: numberOfShards,
		SendTimeout:    sendTimeout,
		RecvTimeout:    recvTimeout,
	}
}

func (c *Client) addressFor(id base.AccountID) string {
	return c.Addresser(authority.GetShard(c.NumberOfShards, id))
}

// exchange sends one envelope and reads one reply frame.
func (c *Client) exchange(ctx context.Context, address string, msg any) (any, error) {
	payload, err := messages.SerializeMessage(msg)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: c.SendTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, base.NewClientIOError(err.Error())
	}
	defer conn.Close()
	if c.SendTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.SendTimeout))
	}
	if err := WriteFrame(conn, payload); err != nil {
		return nil, base.NewClientIOError(err.Error())
	}
	if c.RecvTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.RecvTimeout))
	}
	reply, err := ReadFrame(conn)
	if err != nil {
		return nil, base.NewClientIOError(err.Error())
	}
	decoded, err := messages.DeserializeMessage(reply)
	if err != nil {
		return nil, err
	}
	if protoErr, ok := decoded.(*base.Error); ok {
		return nil, protoErr
	}
	return decoded, nil
}

func (c *Client) expectInfoResponse(ctx context.Context, address string, msg any) (*messages.AccountInfoResponse, error) {
	decoded, err := c.exchange(ctx, address, msg)
	if err != nil {
		return nil, err
	}
	info, ok := decoded.(*messages.AccountInfoResponse)
	if !ok {
		return nil, base.NewError(base.CodeUnexpectedMessage)
	}
	return info, nil
}

// HandleRequestOrder implements client.AuthorityClient.
func (c *Client) HandleRequestOrder(ctx context.Context, order *messages.RequestOrder) (*messages.AccountInfoResponse, error) {
	return c.expectInfoResponse(ctx, c.addressFor(order.Value.Request.AccountID), order)
}

// HandleConfirmationOrder implements client.AuthorityClient.
func (c *Client) HandleConfirmationOrder(ctx context.Context, order *messages.ConfirmationOrder) (*messages.AccountInfoResponse, error) {
	request := order.Certificate.Value.ConfirmRequest()
	if request == nil {
		return nil, base.NewError(base.CodeInvalidConfirmationOrder)
	}
	return c.expectInfoResponse(ctx, c.addressFor(request.AccountID), order)
}

// HandleCoinCreationOrder implements client.AuthorityClient. Coin creation
// is not sharded; the order goes to shard zero.
func (c *Client) HandleCoinCreationOrder(ctx context.Context, order *messages.CoinCreationOrder) (*messages.CoinCreationResponse, error) {
	decoded, err := c.exchange(ctx, c.Addresser(0), order)
	if err != nil {
		return nil, err
	}
	response, ok := decoded.(*messages.CoinCreationResponse)
	if !ok {
		return nil, base.NewError(base.CodeUnexpectedMessage)
	}
	return response, nil
}

// HandleAccountInfoQuery implements client.AuthorityClient.
func (c *Client) HandleAccountInfoQuery(ctx context.Context, query *messages.AccountInfoQuery) (*messages.AccountInfoResponse, error) {
	return c.expectInfoResponse(ctx, c.addressFor(query.AccountID), query)
}

// MassClient floods one shard address with pre-serialized orders over a
// single connection and collects the replies. Benchmark harness only.
type MassClient struct {
	Address     string
	SendTimeout time.Duration
	RecvTimeout time.Duration
	// MaxInFlight bounds the number of unanswered frames.
	MaxInFlight int
}

// Run sends every payload and returns the raw replies.
func (m *MassClient) Run(ctx context.Context, payloads [][]byte) ([][]byte, error) {
	conn, err := net.DialTimeout("tcp", m.Address, m.SendTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.Address, err)
	}
	defer conn.Close()

	inFlight := m.MaxInFlight
	if inFlight <= 0 {
		inFlight = 1000
	}
	replies := make([][]byte, 0, len(payloads))
	sent := 0
	received := 0
	for sent < len(payloads) || received < sent {
		for sent < len(payloads) && sent-received < inFlight {
			if m.SendTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(m.SendTimeout))
			}
			if err := WriteFrame(conn, payloads[sent]); err != nil {
				return replies, fmt.Errorf("send frame %d: %w", sent, err)
			}
			sent++
		}
		if received < sent {
			if m.RecvTimeout > 0 {
				conn.SetReadDeadline(time.Now().Add(m.RecvTimeout))
			}
			reply, err := ReadFrame(conn)
			if err != nil {
				return replies, fmt.Errorf("receive frame %d: %w", received, err)
			}
			replies = append(replies, reply)
			received++
		}
		if ctx.Err() != nil {
			return replies, ctx.Err()
		}
	}
	return replies, nil
}
