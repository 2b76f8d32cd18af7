package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ticketflow/internal/notify"
	"ticketflow/internal/service"
	"ticketflow/internal/tracing"
	"ticketflow/pkg/channel/types"

	apperrors "ticketflow/internal/errors"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router *mux.Router
	logger *logrus.Logger
	ingest *service.IngestService
	hub    *notify.Hub
	server *http.Server
}

func NewServer(ingest *service.IngestService, hub *notify.Hub, logger *logrus.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		ingest: ingest,
		hub:    hub,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook").Subrouter()
	webhook.HandleFunc("/channel", s.handleChannelWebhook()).Methods(http.MethodPost)
	webhook.HandleFunc("/ack", s.handleAckWebhook()).Methods(http.MethodPost)

	s.router.Handle("/ws", s.hub).Methods(http.MethodGet)
}

func (s *Server) Start(port int, readTimeout, writeTimeout, idleTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	s.logger.Infof("Starting server on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (s *Server) handleChannelWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), "webhook.channel")
		defer span.End()

		var event types.MessageEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			s.writeError(w, apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "invalid event payload"))
			return
		}

		if err := s.ingest.HandleMessageEvent(ctx, &event); err != nil {
			tracing.RecordError(ctx, err)
			s.logger.WithError(err).WithField("messageId", event.Message.ID).Error("Failed to process message event")
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleAckWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), "webhook.ack")
		defer span.End()

		var event types.AckEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			s.writeError(w, apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "invalid ack payload"))
			return
		}

		if err := s.ingest.HandleAckEvent(ctx, &event); err != nil {
			tracing.RecordError(ctx, err)
			s.logger.WithError(err).WithField("messageId", event.MessageID).Error("Failed to process ack event")
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeValidationFailed:
		status = http.StatusBadRequest
	case apperrors.ErrCodePermissionDenied:
		status = http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeTenantContextRequired:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeTransport:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": err.Error(),
		},
	})
}
