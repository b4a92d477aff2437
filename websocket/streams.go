package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nicmeup/geo"
	"nicmeup/logging"
	"nicmeup/rendezvous"
)

// ServeQuest streams the requester's wait on a pending quest. It sends one
// "outcome" frame and closes. A "cancel" frame withdraws the quest.
func (m *Manager) ServeQuest(w http.ResponseWriter, r *http.Request, userID, sessionID string) {
	client, err := m.connect(w, r, userID, func(c *Client, in inbound) {
		switch in.Type {
		case "cancel":
			if err := m.quests.Cancel(c.ctx, sessionID, userID); err != nil {
				c.emitError(in.Type, err)
			}
		default:
			c.emitError(in.Type, errUnknownFrame)
		}
	})
	if err != nil {
		m.log.Warn().Err(err).Str(logging.SESSION, sessionID).Msg("upgrade")
		return
	}
	defer client.close()

	outcome, err := m.quests.Wait(client.ctx, sessionID, userID)
	if err != nil {
		if client.ctx.Err() == nil {
			client.emitError("wait", err)
		}
		return
	}
	client.emit("outcome", outcome)
}

type locationFrame struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type chatFrame struct {
	Text string `json:"text"`
}

type chatOpenFrame struct {
	Open bool `json:"open"`
}

// ServeSession runs userID's side of a matched session for as long as the
// socket is open. Every rendezvous event is forwarded with its kind as the
// frame type; the last one is "ended".
func (m *Manager) ServeSession(w http.ResponseWriter, r *http.Request, userID, sessionID, otherID string) {
	client, err := m.connect(w, r, userID, func(c *Client, in inbound) {
		m.sessionFrame(c, in, sessionID, otherID)
	})
	if err != nil {
		m.log.Warn().Err(err).Str(logging.SESSION, sessionID).Msg("upgrade")
		return
	}
	defer client.close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.chat.SetOpen(ctx, userID, otherID, false); err != nil {
			client.log.Warn().Err(err).Msg("clear chat presence")
		}
	}()

	err = m.rendezvous.Run(client.ctx, userID, sessionID, func(e rendezvous.Event) {
		client.emit(string(e.Kind), e)
	})
	if err != nil && client.ctx.Err() == nil {
		client.emitError("run", err)
	}
}

func (m *Manager) sessionFrame(c *Client, in inbound, sessionID, otherID string) {
	ctx := c.ctx
	var err error
	switch in.Type {
	case "location":
		var f locationFrame
		if err = decode(in, &f); err == nil {
			err = m.rendezvous.UpdateLocation(ctx, c.userID, geo.Point{Latitude: f.Latitude, Longitude: f.Longitude})
		}
	case "chat":
		var f chatFrame
		if err = decode(in, &f); err == nil {
			_, err = m.chat.Send(ctx, c.userID, otherID, f.Text)
		}
	case "chat_open":
		var f chatOpenFrame
		if err = decode(in, &f); err == nil {
			err = m.chat.SetOpen(ctx, c.userID, otherID, f.Open)
		}
	case "complete":
		var res *rendezvous.CompleteResult
		if res, err = m.rendezvous.Complete(ctx, sessionID, c.userID); err == nil {
			c.emit("completed", res)
		}
	case "cancel":
		err = m.rendezvous.Cancel(ctx, sessionID, c.userID)
	case "ack":
		err = m.rendezvous.Acknowledge(ctx, sessionID, c.userID)
	default:
		err = errUnknownFrame
	}
	if err != nil && ctx.Err() == nil {
		c.emitError(in.Type, err)
	}
}

func decode(in inbound, v any) error {
	if len(in.Payload) == 0 {
		return errMalformedFrame
	}
	if err := json.Unmarshal(in.Payload, v); err != nil {
		return errMalformedFrame
	}
	return nil
}
