package bioservice

import (
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/gorilla/websocket"
	"github.com/hrix/bioenroll/internal/pkg/status"
	"github.com/labstack/echo/v4"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

const wsPushInterval = time.Millisecond * 300

// subscribeHandler pushes session snapshots over a websocket until the
// session reaches a terminal state or disappears. The polling endpoint
// stays the primary contract, this is a convenience for interactive UIs.
func subscribeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		_, msg, err := ws.ReadMessage()
		if err != nil {
			goapp.Log.Warn().Err(err).Msg("socket read error")
			return nil
		}
		id := string(msg)
		goapp.Log.Info().Str("ID", id).Msg("progress subscription")

		for {
			ses := data.Sessions.Get(id)
			if ses == nil {
				_ = ws.WriteJSON(map[string]interface{}{"success": false, "message": "Enrollment not found"})
				return nil
			}
			if err := ws.WriteJSON(mapSession(ses)); err != nil {
				goapp.Log.Warn().Err(err).Msg("socket write error")
				return nil
			}
			if status.IsTerminal(ses.Status) {
				return nil
			}
			time.Sleep(wsPushInterval)
		}
	}
}
