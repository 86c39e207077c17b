package entrypoint

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/loykin/fleetd/internal/service"
)

func httpHandler(d Deps) http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	api := g.Group("/api")
	api.GET("/util/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     string(service.HTTP),
			"version":     d.Version,
			"environment": string(d.Config.Mode()),
			"pid":         os.Getpid(),
		})
	})
	return g
}

func runHTTP(ctx context.Context, d Deps) error {
	gin.SetMode(gin.ReleaseMode)
	ln, err := d.listen(service.HTTP)
	if err != nil {
		return err
	}
	url := "http://" + ln.Addr().String() + "/"
	if d.NoStudio {
		d.Log.Info("http api listening", "url", url)
	} else {
		d.Log.Info("studio available", "url", url)
	}
	return serveHTTP(ctx, ln, httpHandler(d))
}
