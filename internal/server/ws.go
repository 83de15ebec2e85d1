package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/datacure/livejobs/internal/envelope"
	"github.com/datacure/livejobs/internal/metrics"
	"github.com/datacure/livejobs/internal/model"
)

// handleJobSocket streams one job's events to a WebSocket client. Clients
// that join after the job has finished get its terminal event right away.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	log := s.logger.With("job_id", jobID, "remote", r.RemoteAddr)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub, err := s.broker.Subscribe(r.Context(), jobID)
	if err != nil {
		log.Error("subscribe failed", "err", err)
		s.writeClose(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer sub.Close()

	metrics.ClientSubscribed()
	defer metrics.ClientUnsubscribed()
	log.Info("websocket client connected")

	done := make(chan struct{})
	go func() {
		// done is closed before the subscription so the pump can tell a
		// client disconnect from the broker ending the stream.
		defer sub.Close()
		defer close(done)
		// Client messages are ignored; reading detects disconnects and
		// handles control frames.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go s.keepalive(conn, done)

	if job, err := s.store.GetJob(r.Context(), jobID); err == nil && job.Status.Terminal() {
		if err := s.writeEnvelope(conn, terminalEvent(job)); err != nil {
			return
		}
	}

	for {
		msg, ok := sub.Receive()
		if !ok {
			break
		}
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debug("websocket write failed", "err", err)
			return
		}
	}

	select {
	case <-done:
		log.Info("websocket client disconnected")
	default:
		log.Info("subscription ended by broker")
		s.writeClose(conn, websocket.CloseGoingAway, "subscription ended")
	}
}

func (s *Server) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEnvelope(conn *websocket.Conn, env envelope.Envelope) error {
	msg, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *Server) writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func terminalEvent(job model.Job) envelope.Envelope {
	if job.Status == model.StatusFailed {
		return envelope.Failed(job.ID, "")
	}
	return envelope.Completed(job.ID)
}
