// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/StorXNetwork/CallSignal/signal/push"
)

// Server exposes the call signaling HTTP endpoints.
type Server struct {
	log *zap.Logger

	listener net.Listener
	server   http.Server

	service *Service
}

// NewServer returns a new signaling Server.
func NewServer(log *zap.Logger, listener net.Listener, service *Service) *Server {
	server := &Server{
		log:      log,
		listener: listener,
		service:  service,
	}

	root := mux.NewRouter()
	root.Use(server.withRequestID)
	root.HandleFunc("/sendRingingNotification", server.sendRingingNotification).Methods("POST")
	root.HandleFunc("/acceptCall", server.acceptCall).Methods("POST")
	root.HandleFunc("/", server.index).Methods("GET")

	server.server.Handler = root
	return server
}

// Run starts the signaling endpoint.
func (server *Server) Run(ctx context.Context) error {
	if server.listener == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close closes server and underlying listener.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

// withRequestID tags every request with an id for log correlation.
func (server *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		server.log.Debug("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))

		next.ServeHTTP(w, r)
	})
}

func (server *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("CallSignal service is running"))
}

func (server *Server) sendRingingNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	var req RingingRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "failed to unmarshal request", err.Error(), http.StatusBadRequest)
		return
	}

	result, err := server.service.NotifyRinging(ctx, req)
	if err != nil {
		server.serveError(w, err)
		return
	}

	sendJSONData(w, http.StatusOK, ringingResponse{
		Message:      "ringing notification sent",
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
		Details:      result.Results,
	})
}

func (server *Server) acceptCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	var req AcceptRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "failed to unmarshal request", err.Error(), http.StatusBadRequest)
		return
	}

	result, err := server.service.AcceptCall(ctx, req)
	if err != nil {
		server.serveError(w, err)
		return
	}

	sendJSONData(w, http.StatusOK, acceptResponse{
		Message:            "call accepted",
		CallID:             result.CallID,
		Token:              result.Token,
		Channel:            result.Channel,
		AcceptedByDeviceID: result.AcceptedByDeviceID,
	})
}

// serveError maps service errors onto the HTTP error taxonomy: validation
// failures are 400, lost accept races are 409, everything else is 500.
func (server *Server) serveError(w http.ResponseWriter, err error) {
	switch {
	case ErrValidation.Has(err):
		sendJSONError(w, err.Error(), "", http.StatusBadRequest)
	case ErrConflict.Has(err):
		sendJSONError(w, err.Error(), "", http.StatusConflict)
	default:
		server.log.Error("request failed", zap.Error(err))
		sendJSONError(w, "internal server error", err.Error(), http.StatusInternalServerError)
	}
}

type ringingResponse struct {
	Message      string            `json:"message"`
	SuccessCount int               `json:"successCount"`
	FailureCount int               `json:"failureCount"`
	Details      []push.SendResult `json:"details"`
}

type acceptResponse struct {
	Message            string `json:"message"`
	CallID             string `json:"callId"`
	Token              string `json:"token"`
	Channel            string `json:"channel"`
	AcceptedByDeviceID string `json:"acceptedByDeviceId"`
}

// sendJSONError writes a JSON error to the response output stream.
func sendJSONError(w http.ResponseWriter, errMsg, detail string, statusCode int) {
	errStr := struct {
		Error  string `json:"error"`
		Detail string `json:"details,omitempty"`
	}{
		Error:  errMsg,
		Detail: detail,
	}
	sendJSONData(w, statusCode, errStr)
}

// sendJSONData writes JSON data to the response output stream.
func sendJSONData(w http.ResponseWriter, statusCode int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"error":"json encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
