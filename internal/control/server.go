package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MnAnX/Infra/internal/hermes"
	"github.com/MnAnX/Infra/internal/logger"
	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
)

// Server answers control requests on its own ROUTER endpoint. Commands run
// one at a time on the server goroutine.
type Server struct {
	endpoint     string
	handler      *Handler
	pollInterval time.Duration

	zctx   *zmq4.Context
	socket *zmq4.Socket

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	logger  zerolog.Logger
	mutex   sync.Mutex
	running bool
}

// NewServer creates a control server bound to endpoint, e.g. "tcp://*:5557"
func NewServer(endpoint string, handler *Handler) *Server {
	return &Server{
		endpoint:     endpoint,
		handler:      handler,
		pollInterval: hermes.DefaultPollInterval,
		logger:       logger.GetLogger("control.server").With().Str("endpoint", endpoint).Logger(),
	}
}

// Start binds the endpoint and launches the request loop
func (s *Server) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return fmt.Errorf("control server already running")
	}

	zctx, err := zmq4.NewContext()
	if err != nil {
		return fmt.Errorf("failed to create zmq context: %w", err)
	}
	socket, err := zctx.NewSocket(zmq4.ROUTER)
	if err != nil {
		zctx.Term()
		return fmt.Errorf("failed to create ROUTER socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		zctx.Term()
		return fmt.Errorf("failed to set linger: %w", err)
	}
	if err := socket.Bind(s.endpoint); err != nil {
		socket.Close()
		zctx.Term()
		return fmt.Errorf("failed to bind control endpoint %s: %w", s.endpoint, err)
	}

	s.zctx = zctx
	s.socket = socket
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.running = true

	go s.serve()

	s.logger.Info().Msg("Control server started")
	return nil
}

// Stop ends the request loop and waits for it to release the socket. Safe
// to call from a command: the loop is never waited on from itself.
func (s *Server) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.mutex.Unlock()

	s.cancel()
	<-s.done
	s.logger.Info().Msg("Control server stopped")
	return nil
}

func (s *Server) serve() {
	defer close(s.done)
	defer func() {
		s.socket.Close()
		s.zctx.Term()
	}()

	poller := zmq4.NewPoller()
	poller.Add(s.socket, zmq4.POLLIN)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		polled, err := poller.Poll(s.pollInterval)
		if err != nil {
			s.logger.Error().Err(err).Msg("Polling error in control server")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to receive control request")
			continue
		}

		env, err := hermes.Decode(msg)
		if err != nil || len(env.Trail) == 0 {
			s.logger.Warn().
				Int("parts_count", len(msg)).
				Msg("Dropping malformed control request")
			continue
		}

		reply := hermes.NewEnvelope(env.Trail, s.handle(env.Body))
		if _, err := s.socket.SendMessage(reply.Frames()); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send control reply")
		}
	}
}

// handle never fails: every problem becomes an error reply
func (s *Server) handle(body []byte) []byte {
	req, err := ParseRequest(body)
	if err != nil {
		return hermes.EncodeErrorBody(err.Error())
	}

	result, err := s.handler.Dispatch(req)
	if err != nil {
		s.logger.Warn().
			Str("command", req.Command).
			Err(err).
			Msg("Control command failed")
		return hermes.EncodeErrorBody(err.Error())
	}
	return hermes.EncodeReplyBody(result)
}

// Endpoint returns the bound endpoint
func (s *Server) Endpoint() string {
	return s.endpoint
}
