package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/contracts"
	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
	"github.com/poudelpratik/fragmentrt/pkg/session"
)

// wsConn is the subset of *websocket.Conn the loop depends on, so tests
// can drive it against an in-memory fake instead of a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// socketSink adapts a wsConn into a session.OutboundSink, serializing
// concurrent writers frame by frame.
type socketSink struct {
	mu   sync.Mutex
	conn wsConn
}

func (s *socketSink) Send(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, message)
}

var _ session.OutboundSink = (*socketSink)(nil)

// Registry is the subset of the session registry the loop depends on.
type Registry interface {
	LookupByID(sessionID string) (contracts.SessionSnapshot, bool)
	UpdatePlacement(sessionID string, delta []contracts.PlacementEntry) error
	AttachOutbound(sessionID string, sink session.OutboundSink, userAgent, remoteAddr string) (contracts.SessionSnapshot, bool)
	DetachOutbound(sessionID string)
}

// Loop runs the duplex session loop for one already-authenticated
// connection. It blocks until the connection closes and every
// ExecuteFunction call it started has finished.
// sessionID must already be registered in registry; the handshake
// (token verification, session resolution) is the caller's
// responsibility (pkg/gateway).
func Loop(
	ctx context.Context,
	conn wsConn,
	sessionID, userAgent, remoteAddr string,
	registry Registry,
	engine contracts.ExecutionEngine,
	auditLogger contracts.InvocationLogger,
	logger *zap.Logger,
) {
	sink := &socketSink{conn: conn}

	snapshot, ok := registry.AttachOutbound(sessionID, sink, userAgent, remoteAddr)
	if !ok {
		logger.Warn("attach outbound failed: session vanished between auth and connect", zap.String("session_id", sessionID))
		return
	}
	defer registry.DetachOutbound(sessionID)

	// Initial UpdateFragments push reflecting the server's view of the
	// placement map, as a side effect of attaching.
	initial := newResponse(uuid.NewString(), MessageTypeUpdateFragments, placementResponseData(snapshot.Placement))
	if err := sendEnvelope(sink, initial); err != nil {
		logger.Debug("failed to send initial placement push", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("session receive loop ending", zap.String("session_id", sessionID), zap.Error(err))
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			logger.Warn("dropping malformed request envelope", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}

		switch envelope.MessageType {
		case MessageTypeExecuteFunction:
			wg.Add(1)
			go func(envelope Envelope) {
				defer wg.Done()
				handleExecuteFunction(ctx, envelope, sessionID, sink, engine, auditLogger, logger)
			}(envelope)

		case MessageTypeUpdateFragments:
			handleUpdateFragments(envelope, sessionID, sink, registry, logger)

		default:
			logger.Debug("ignoring unknown message type",
				zap.String("session_id", sessionID),
				zap.String("message_type", envelope.MessageType),
			)
		}
	}
}

func handleExecuteFunction(ctx context.Context, envelope Envelope, sessionID string, sink session.OutboundSink, engine contracts.ExecutionEngine, auditLogger contracts.InvocationLogger, logger *zap.Logger) {
	// UseNumber keeps integer parameters as json.Number instead of
	// flattening them to float64, so the engine can encode them as
	// MessagePack integers for the guest's typed decode.
	dec := json.NewDecoder(bytes.NewReader(envelope.Data))
	dec.UseNumber()

	var req ExecuteFunctionRequest
	if err := dec.Decode(&req); err != nil {
		resp := newErrorResponse(envelope.MessageID, MessageTypeExecuteFunction, nil, fragerrors.CodeCodecError, "malformed ExecuteFunction payload")
		_ = sendEnvelope(sink, resp)
		return
	}

	started := time.Now()
	result, callErr := engine.Execute(ctx, req.FragmentID, req.FunctionName, req.Parameters)
	duration := time.Since(started)

	record := contracts.InvocationRecord{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		FragmentID:   req.FragmentID,
		FunctionName: req.FunctionName,
		StartedAt:    started,
		DurationMS:   duration.Milliseconds(),
	}

	var resp responseEnvelope
	if callErr != nil {
		record.Status = "error"
		record.ErrorKind = fragerrors.GetErrorCode(callErr)
		logger.Warn("fragment call failed",
			zap.String("session_id", sessionID),
			zap.String("fragment_id", req.FragmentID),
			zap.String("function_name", req.FunctionName),
			zap.Error(callErr),
		)
		resp = newErrorResponse(envelope.MessageID, MessageTypeExecuteFunction, nil, record.ErrorKind, fragerrors.GetErrorMessage(callErr))
	} else {
		record.Status = "ok"
		resp = newResponse(envelope.MessageID, MessageTypeExecuteFunction, result)
	}

	auditLogger.Log(ctx, record)

	if err := sendEnvelope(sink, resp); err != nil {
		logger.Debug("discarding execute response: send failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func handleUpdateFragments(envelope Envelope, sessionID string, sink session.OutboundSink, registry Registry, logger *zap.Logger) {
	var delta []contracts.PlacementEntry
	if err := json.Unmarshal(envelope.Data, &delta); err != nil {
		resp := newErrorResponse(envelope.MessageID, MessageTypeUpdateFragments, nil, fragerrors.CodeCodecError, "malformed UpdateFragments payload")
		_ = sendEnvelope(sink, resp)
		return
	}

	if err := registry.UpdatePlacement(sessionID, delta); err != nil {
		logger.Warn("update placement failed", zap.String("session_id", sessionID), zap.Error(err))
		resp := newErrorResponse(envelope.MessageID, MessageTypeUpdateFragments, nil, fragerrors.GetErrorCode(err), fragerrors.GetErrorMessage(err))
		_ = sendEnvelope(sink, resp)
		return
	}

	snapshot, _ := registry.LookupByID(sessionID)
	resp := newResponse(envelope.MessageID, MessageTypeUpdateFragments, placementResponseData(snapshot.Placement))
	if err := sendEnvelope(sink, resp); err != nil {
		logger.Debug("discarding update-fragments confirmation: send failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func sendEnvelope(sink session.OutboundSink, resp responseEnvelope) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return sink.Send(raw)
}
