package group

import (
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"nbcommit/codec"
)

// Wire bodies of the hub's HTTP API. All are msgpack encoded.
type joinRequest struct {
	Group string `codec:"group"`
}

type joinResponse struct {
	ID ID `codec:"id"`
}

type memberRequest struct {
	ID ID `codec:"id"`
}

type subgroupResponse struct {
	Members []ID `codec:"members"`
}

type sendRequest struct {
	From    ID     `codec:"from"`
	Seq     uint64 `codec:"seq"`
	To      []ID   `codec:"to"`
	Payload []byte `codec:"payload"`
}

type receiveRequest struct {
	Self      ID    `codec:"self"`
	From      []ID  `codec:"from"`
	TimeoutMs int64 `codec:"timeout_ms"`
}

type receiveResponse struct {
	Envelope Envelope `codec:"envelope"`
	TimedOut bool     `codec:"timed_out"`
}

// Server exposes a Hub over HTTP so processes in separate binaries can
// share one group.
type Server struct {
	hub    *Hub
	logger hclog.Logger
	mux    *http.ServeMux
}

func NewServer(hub *Hub, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{hub: hub, logger: logger.Named("server"), mux: http.NewServeMux()}
	s.mux.HandleFunc("/join", s.handleJoin)
	s.mux.HandleFunc("/bind", s.handleBind)
	s.mux.HandleFunc("/leave", s.handleLeave)
	s.mux.HandleFunc("/subgroup", s.handleSubgroup)
	s.mux.HandleFunc("/send", s.handleSend)
	s.mux.HandleFunc("/receive", s.handleReceive)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("serving group channel", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := codec.DecodeFrom(r.Body, v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", codec.ContentType)
	if err := codec.EncodeTo(w, v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownMember):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotBound):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.reply(w, joinResponse{ID: s.hub.Join(req.Group)})
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.hub.Bind(req.ID); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.hub.Leave(req.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubgroup(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.reply(w, subgroupResponse{Members: s.hub.Subgroup(req.Group).Sorted()})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.hub.Send(req.From, req.Seq, NewSet(req.To...), req.Payload); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	env, err := s.hub.Receive(r.Context(), req.Self, NewSet(req.From...), timeout)
	switch {
	case errors.Is(err, ErrTimeout):
		s.reply(w, receiveResponse{TimedOut: true})
	case err != nil:
		s.fail(w, err)
	default:
		s.reply(w, receiveResponse{Envelope: env})
	}
}
