package wyoming

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/jarvis/internal/buildinfo"
	"github.com/nugget/jarvis/internal/speech"
)

// Conversations runs turns keyed by conversation ID.
type Conversations interface {
	Process(ctx context.Context, id, text string) string
	Close(id string)
}

// Config describes the listener and the program advertised in info.
type Config struct {
	Address  string
	Port     int
	Model    string
	Language string
}

// Server accepts Wyoming connections. Each connection is its own
// conversation.
type Server struct {
	cfg    Config
	agent  Conversations
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a Wyoming server.
func NewServer(cfg Config, agent Conversations, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Server{
		cfg:    cfg,
		agent:  agent,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("wyoming listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("starting Wyoming server", "address", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("wyoming accept: %w", err)
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handle(ctx, conn)
		}()
	}
}

// Shutdown stops accepting, closes open connections and waits for
// their handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	convID := "wyoming-" + uuid.New().String()
	defer s.agent.Close(convID)
	logger := s.logger.With("conversation", convID, "remote", conn.RemoteAddr().String())
	logger.Info("wyoming client connected")

	if err := WriteEvent(conn, s.info()); err != nil {
		logger.Warn("failed to send info", "error", err)
		return
	}

	r := bufio.NewReader(conn)
	for {
		ev, err := ReadEvent(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Info("wyoming client disconnected")
			} else {
				logger.Warn("wyoming read failed", "error", err)
			}
			return
		}

		reply, ok := s.respond(ctx, convID, ev, logger)
		if !ok {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
			logger.Debug("failed to set write deadline", "error", err)
		}
		if err := WriteEvent(conn, reply); err != nil {
			logger.Warn("wyoming write failed", "error", err)
			return
		}
	}
}

// respond maps one inbound event to its reply. The boolean is false for
// events that need no answer.
func (s *Server) respond(ctx context.Context, convID string, ev Event, logger *slog.Logger) (Event, bool) {
	switch ev.Type {
	case TypeDescribe:
		return s.info(), true
	case TypePing:
		return Event{Type: TypePong, Data: ev.Data}, true
	case TypeTranscript, TypeText:
		text := strings.TrimSpace(ev.Text())
		if text == "" {
			return Event{Type: TypeNotHandled, Data: map[string]any{"text": "I didn't catch that, Sir."}}, true
		}
		logger.Info("wyoming request", "text", text)
		reply := s.agent.Process(ctx, convID, text)
		return Event{Type: TypeHandled, Data: map[string]any{"text": speech.ForVoice(reply)}}, true
	}
	logger.Debug("ignoring wyoming event", "type", ev.Type)
	return Event{}, false
}

// info advertises Jarvis as a handle (conversation) program.
func (s *Server) info() Event {
	attribution := map[string]any{"name": "Jarvis", "url": "https://github.com/nugget/jarvis"}
	model := s.cfg.Model
	if model == "" {
		model = "jarvis"
	}
	return Event{
		Type: TypeInfo,
		Data: map[string]any{
			"handle": []any{
				map[string]any{
					"name":        "jarvis",
					"description": "J.A.R.V.I.S. conversation agent",
					"attribution": attribution,
					"installed":   true,
					"version":     buildinfo.Version,
					"models": []any{
						map[string]any{
							"name":        model,
							"description": "Jarvis home assistant",
							"attribution": attribution,
							"installed":   true,
							"version":     buildinfo.Version,
							"languages":   []string{s.cfg.Language},
						},
					},
				},
			},
		},
	}
}
