package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"vico_home/actorcast/internal/relay"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var addr string
	var debug bool
	cmd := &cobra.Command{
		Use:          "signal-relay",
		Short:        "Websocket fan-out relay for actorcast signaling (ws://host/ws/<session>)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(addr, debug)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	cmd.Flags().BoolVar(&debug, "debug", false, "debug logging")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("[main] %v", err)
	}
}

func serve(addr string, debug bool) error {
	lf := logging.NewDefaultLoggerFactory()
	if debug {
		lf.DefaultLogLevel = logging.LogLevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{Addr: addr, Handler: relay.NewHub(lf).Router()}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Printf("[main] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[main] relay listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
