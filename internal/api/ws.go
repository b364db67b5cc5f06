package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now; tighten in production
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const writeWait = 10 * time.Second

// serveSession upgrades the connection and runs one protocol session
// over it. Requests are handled one at a time in arrival order; pushed
// deltas are interleaved by the writer goroutine.
func (s *Server) serveSession(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	sess := s.manager.Connect()
	defer s.manager.Disconnect(sess)

	log := s.log.With(zap.String("session", sess.ID))
	log.Info("api: session connected", zap.String("remote", c.RealIP()))

	// Session channel -> WebSocket. Responses and pushes share the
	// connection, so all writes go through this goroutine.
	done := make(chan struct{})
	responses := make(chan types.Response, 16)
	go func() {
		defer close(done)
		for {
			var resp types.Response
			var ok bool
			select {
			case resp, ok = <-responses:
			case resp, ok = <-sess.Out():
			}
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(resp); err != nil {
				log.Debug("api: write failed", zap.Error(err))
				return
			}
		}
	}()

	// WebSocket -> request dispatch.
	ctx := c.Request().Context()
	for {
		var req types.Request
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("api: read failed", zap.Error(err))
			}
			break
		}
		resp := s.manager.Handle(ctx, sess, req)
		select {
		case responses <- resp:
		case <-done:
			log.Info("api: session disconnected")
			return nil
		}
	}

	close(responses)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	<-done

	log.Info("api: session disconnected")
	return nil
}
