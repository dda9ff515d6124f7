package main

import (
	"encoding/json"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/authtoken"
	"github.com/evgeniums/hatn-go/internal/mqueue"
	"github.com/evgeniums/hatn-go/internal/rpcserver"
	"github.com/evgeniums/hatn-go/internal/storage"
	"github.com/evgeniums/hatn-go/internal/taskctx"
	"github.com/evgeniums/hatn-go/internal/wire"
)

// Service/method ids this example binary registers. A real deployment
// would assign these from a shared IDL; this demo binary hand-assigns
// them per spec §4.9 point 2's "(service_id, method_id)" lookup table.
const (
	ServiceAuth         = 1
	MethodAuthNegotiate = 1

	ServiceMQ       = 2
	MethodMQPublish = 1
	MethodMQPoll    = 2
	MethodMQAck     = 3
)

type negotiateRequest struct {
	Offered []authtoken.ProtocolOffer `json:"offered"`
}

type negotiateResponse struct {
	Protocol authtoken.ProtocolOffer `json:"protocol"`
}

func authNegotiateHandler(neg *authtoken.Negotiator) rpcserver.Handler {
	return func(ctx *taskctx.Handle, env *rpcserver.Environment, req wire.RequestFrame) ([]byte, error) {
		var in negotiateRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, err)
		}
		chosen, err := neg.Negotiate(in.Offered)
		if err != nil {
			return nil, err
		}
		return json.Marshal(negotiateResponse{Protocol: chosen})
	}
}

type mqPublishRequest struct {
	ProducerID  string           `json:"producer_id"`
	ProducerPos uint64           `json:"producer_pos"`
	ObjectType  string           `json:"object_type"`
	ObjectID    string           `json:"object_id"`
	Operation   mqueue.Operation `json:"operation"`
	Payload     []byte           `json:"payload"`
}

type mqPublishResponse struct {
	Pos       uint64 `json:"pos"`
	Duplicate bool   `json:"duplicate"`
}

func mqPublishHandler(server *mqueue.Server, tail *tailHub, metrics *adminMetrics) rpcserver.Handler {
	return func(ctx *taskctx.Handle, env *rpcserver.Environment, req wire.RequestFrame) ([]byte, error) {
		var in mqPublishRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, err)
		}

		sender, session := authPrincipal(ctx)
		accepted, err := server.Accept(req.Topic, mqueue.Inbound{
			ProducerID:  in.ProducerID,
			ProducerPos: in.ProducerPos,
			ObjectType:  in.ObjectType,
			ObjectID:    in.ObjectID,
			Operation:   in.Operation,
			Sender:      sender,
			Session:     session,
			Payload:     in.Payload,
			SentAt:      time.Now(),
		})
		if err != nil {
			if ae, ok := apperrors.As(err); ok {
				metrics.mqRejected.WithLabelValues(string(ae.Code)).Inc()
			}
			return nil, err
		}
		metrics.mqAccepted.Inc()
		if !accepted.Duplicate && tail != nil {
			tail.Publish(mqueue.Message{
				Pos: accepted.Pos, ProducerID: in.ProducerID, ProducerPos: in.ProducerPos,
				ObjectType: in.ObjectType, ObjectID: in.ObjectID, Operation: in.Operation,
				Sender: sender, Session: session, Payload: in.Payload,
			})
		}
		return json.Marshal(mqPublishResponse{Pos: accepted.Pos, Duplicate: accepted.Duplicate})
	}
}

type mqPollRequest struct {
	DownstreamID string `json:"downstream_id"`
	Limit        int    `json:"limit"`
}

func mqPollHandler(engine *storage.Engine) rpcserver.Handler {
	return func(ctx *taskctx.Handle, env *rpcserver.Environment, req wire.RequestFrame) ([]byte, error) {
		var in mqPollRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, err)
		}
		sub := mqueue.NewSubscriber(engine, in.DownstreamID)
		msgs, err := sub.Pending(req.Topic, in.Limit)
		if err != nil {
			return nil, err
		}
		return json.Marshal(msgs)
	}
}

type mqAckRequest struct {
	DownstreamID string `json:"downstream_id"`
	Pos          uint64 `json:"pos"`
}

func mqAckHandler(engine *storage.Engine) rpcserver.Handler {
	return func(ctx *taskctx.Handle, env *rpcserver.Environment, req wire.RequestFrame) ([]byte, error) {
		var in mqAckRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, err)
		}
		sub := mqueue.NewSubscriber(engine, in.DownstreamID)
		if err := sub.Ack(req.Topic, in.Pos); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// authPrincipal extracts the (login, session_id) a request was
// authenticated as, from the *authtoken.ServerToken published onto ctx by
// the auth dispatcher's handler (spec §4.10's token -> session record).
func authPrincipal(ctx *taskctx.Handle) (sender, session string) {
	tok, ok := authtoken.ServerTokenFromContext(ctx)
	if !ok {
		return "", ""
	}
	return tok.Login, tok.SessionID
}
