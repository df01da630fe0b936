package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"koi-classifier/internal/batch"
	"koi-classifier/internal/ml"
)

const (
	wsMaxMessageBytes = 1 << 20
	wsWriteWait       = 10 * time.Second
	wsIdleTimeout     = 5 * time.Minute
)

// streamReply answers one websocket message. A record message gets Result or
// Error; a table message gets Rows.
type streamReply struct {
	*ml.Result
	Rows  []batch.RowReport `json:"rows,omitempty"`
	Error string            `json:"error,omitempty"`
	Kind  string            `json:"kind,omitempty"`
}

// handleWebSocket streams predictions: each text message is a JSON record or
// an array of records and is answered in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	if s.deps.Metrics != nil {
		s.deps.Metrics.WSConnectionsAdd(1)
		defer s.deps.Metrics.WSConnectionsAdd(-1)
	}

	conn.SetReadLimit(wsMaxMessageBytes)
	for {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout)) //nolint:errcheck
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("WebSocket closed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		reply := s.streamPredict(r.Context(), data)
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
		if err := conn.WriteJSON(reply); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func (s *Server) streamPredict(parent context.Context, data []byte) streamReply {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RequestTimeout)
	defer cancel()

	if batch.DetectFormat(data) == "json" {
		in, err := batch.ReadJSON(bytes.NewReader(data), s.cfg.MaxBatchRows)
		if err != nil {
			return streamReply{Error: err.Error()}
		}
		in.Source = "websocket"
		report, err := s.deps.Runner.Run(ctx, in)
		if err != nil {
			return streamReply{Error: err.Error(), Kind: ml.ErrorKind(err)}
		}
		return streamReply{Rows: report.Results}
	}

	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return streamReply{Error: "message must be a JSON object or array"}
	}
	rec, err := batch.RecordFromJSON(obj)
	if err != nil {
		return streamReply{Error: err.Error(), Kind: ml.ErrorKind(err)}
	}
	res, err := s.deps.Predictor.PredictOne(ctx, rec)
	if err != nil {
		return streamReply{Error: err.Error(), Kind: ml.ErrorKind(err)}
	}
	return streamReply{Result: res}
}
