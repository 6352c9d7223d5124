// Package rpc exposes a JSON-RPC endpoint through which other processes hand
// "message created" events to the gateway.
package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/events"
)

// ServiceName is the JSON-RPC service name; methods are called as "Gateway.<Method>".
const ServiceName = "Gateway"

// Server exposes gateway RPC endpoints.
type Server struct {
	rpcServer *rpc.Server
	log       *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a new gateway RPC server publishing into publisher.
func NewServer(publisher events.Publisher, log *zap.Logger) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{publisher: publisher, log: log}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		log:       log,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds addr. Call Serve afterwards.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln.Addr(), nil
}

// Serve accepts RPC connections until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rpc server is not listening")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.log.Warn("RPC accept error", zap.Error(err))
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	if _, err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements gateway RPC methods.
type Handler struct {
	publisher events.Publisher
	log       *zap.Logger
}

// PublishRequest carries one message-created event.
type PublishRequest struct {
	Event domain.MessageEvent `json:"event"`
}

// PublishResponse reports whether the event was queued for delivery.
type PublishResponse struct {
	Accepted bool `json:"accepted"`
}

// PublishMessage queues an event for delivery. Delivery itself is not awaited.
func (h *Handler) PublishMessage(req *PublishRequest, resp *PublishResponse) error {
	if req == nil {
		return errors.New("publish request is required")
	}
	if err := h.publisher.Publish(context.Background(), req.Event); err != nil {
		h.log.Warn("RPC publish rejected", zap.Int64("message_id", req.Event.ID), zap.Error(err))
		return err
	}

	h.log.Debug("RPC event queued", zap.Int64("message_id", req.Event.ID))
	if resp != nil {
		resp.Accepted = true
	}
	return nil
}
