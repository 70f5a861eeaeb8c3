package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Admin is the relay's health/metrics HTTP surface — a plain Echo app
// separate from the WebTransport/QUIC listener, grounded on
// server/internal/httpapi/server.go's Echo-app-with-health-route shape.
type Admin struct {
	echo *echo.Echo
	node *Node
}

type healthResponse struct {
	Status       string `json:"status"`
	PeerID       string `json:"peer_id"`
	ExternalAddr string `json:"external_addr"`
	Circuits     int    `json:"circuits"`
}

// NewAdmin builds the admin app around node.
func NewAdmin(node *Node) *Admin {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	a := &Admin{echo: e, node: node}
	e.GET("/health", a.handleHealth)
	return a
}

func (a *Admin) handleHealth(c echo.Context) error {
	a.node.circuits.mu.Lock()
	n := len(a.node.circuits.circuits)
	a.node.circuits.mu.Unlock()

	return c.JSON(http.StatusOK, healthResponse{
		Status:       "ok",
		PeerID:       a.node.ID.String(),
		ExternalAddr: a.node.ExternalAddress(),
		Circuits:     n,
	})
}

// Run starts the admin HTTP server and blocks until ctx is canceled.
func (a *Admin) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := a.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down relay admin server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.echo.Shutdown(shutCtx)
		return nil
	}
}
