package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/risa-org/chatlink/transport/amqp"
	"github.com/risa-org/chatlink/transport/tcp"
	"github.com/risa-org/chatlink/transport/websocket"
	"go.uber.org/zap"
	nws "nhooyr.io/websocket"
)

// ListenTCP accepts framed TCP connections on addr until ctx ends.
func (s *Server) ListenTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts connections from ln until ctx ends. ln is closed
// on return.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("accepting tcp connections", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		adapter := tcp.New(conn, tcp.WithMaxFrameSize(s.maxFrameSize))
		go func() {
			<-ctx.Done()
			adapter.Close()
		}()
		go s.Serve(adapter)
	}
}

// WebSocketHandler upgrades each request to a websocket and serves it.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := nws.Accept(w, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		s.Serve(websocket.New(conn, s.maxFrameSize))
	})
}

// ServeAMQP consumes requests from queue on the broker at url until ctx
// ends or the broker connection drops.
func (s *Server) ServeAMQP(ctx context.Context, url, queue string) error {
	adapter, err := amqp.DialServer(url, queue)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		adapter.Close()
	}()

	s.logger.Info("consuming amqp requests", zap.String("queue", queue))
	event := s.Serve(adapter)
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("amqp consumer stopped: %w", event)
}
