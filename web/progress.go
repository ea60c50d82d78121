package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"VisionCount/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	ProgressSteps = 100
	ProgressPause = 20 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RunProgress emits 0..steps with a fixed pause between values. It is purely
// cosmetic and knows nothing about the inference it accompanies.
func RunProgress(ctx context.Context, steps int, pause time.Duration, emit func(pct int) error) error {
	timer := time.NewTimer(pause)
	defer timer.Stop()
	for i := 0; i <= steps; i++ {
		if err := emit(i); err != nil {
			return err
		}
		if i == steps {
			break
		}
		timer.Reset(pause)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (s *Server) progress(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	defer conn.Close()
	err = RunProgress(c.Request.Context(), ProgressSteps, s.progressPause, func(pct int) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(strconv.Itoa(pct)))
	})
	if err != nil {
		logger.Log().Debug("progress stream ended early", zap.Error(err))
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}
