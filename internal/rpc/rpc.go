// Package rpc dispatches JSON RPC frames to named handlers. Frames arrive over
// HTTP, WebSocket or MQTT; all of them share one Server.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Error is an RPC failure reported to the caller.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%d: %s", e.Code, e.Message) }

// Errorf builds an *Error.
func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Codes used by the built-in paths.
const (
	CodeBadRequest = 400
	CodeForbidden  = 403
	CodeNotFound   = 404
	CodeInternal   = 500
)

// Frame is an inbound request.
type Frame struct {
	ID     int64           `json:"id,omitempty"`
	Src    string          `json:"src,omitempty"`
	Dst    string          `json:"dst,omitempty"`
	Tag    string          `json:"tag,omitempty"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Arguments returns args, falling back to params.
func (f Frame) Arguments() json.RawMessage {
	if len(f.Args) > 0 {
		return f.Args
	}
	return f.Params
}

// Response answers a Frame. Exactly one of Result and Error is set.
type Response struct {
	ID     int64       `json:"id,omitempty"`
	Src    string      `json:"src,omitempty"`
	Dst    string      `json:"dst,omitempty"`
	Tag    string      `json:"tag,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

// Handler serves one method. args is nil when the caller sent none.
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Server is the method registry.
type Server struct {
	src    string
	logger *logrus.Entry

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer creates a server answering as src. RPC.List is always present.
func NewServer(src string, logger *logrus.Entry) *Server {
	s := &Server{
		src:      src,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
	s.AddHandler("RPC.List", func(context.Context, json.RawMessage) (interface{}, error) {
		return s.Methods(), nil
	})
	return s
}

// AddHandler registers h for method, replacing any earlier handler.
func (s *Server) AddHandler(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Methods lists registered methods in order.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler for f and builds the response.
func (s *Server) Dispatch(ctx context.Context, f Frame) Response {
	resp := Response{ID: f.ID, Src: s.src, Dst: f.Src, Tag: f.Tag}

	s.mu.RLock()
	h, ok := s.handlers[f.Method]
	s.mu.RUnlock()
	if !ok {
		resp.Error = Errorf(CodeNotFound, "No handler for %s", f.Method)
		return resp
	}

	args := f.Arguments()
	s.logger.WithField("method", f.Method).Infof("%s rpc called, payload: %s", f.Method, string(args))
	result, err := h(ctx, args)
	if err != nil {
		resp.Error = toError(err)
		s.logger.WithField("method", f.Method).Warnf("%s failed: %s", f.Method, resp.Error.Message)
		return resp
	}
	resp.Result = result
	return resp
}

func toError(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
