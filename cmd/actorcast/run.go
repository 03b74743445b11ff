package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"

	"vico_home/actorcast/internal/api"
	"vico_home/actorcast/internal/config"
	"vico_home/actorcast/internal/credentials"
	"vico_home/actorcast/internal/domain"
	"vico_home/actorcast/internal/metrics"
	"vico_home/actorcast/internal/orchestrator"
	"vico_home/actorcast/internal/signal"
	"vico_home/actorcast/internal/webrtc"
)

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func loggerFactory(level string) logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	lf.Writer = os.Stderr
	if l, ok := logLevels[strings.ToLower(level)]; ok {
		lf.DefaultLogLevel = l
	}
	return lf
}

func resolveRole(cfg *config.Config) domain.Role {
	if role, ok := domain.ParseRole(cfg.Role); ok {
		return role
	}
	return orchestrator.RoleFor(cfg.ID, cfg.ActorID)
}

// credentialService picks the HTTP issuer, then the local TURN secret
// issuer. Nil means STUN only.
func credentialService(c config.CredentialsConfig) domain.CredentialService {
	switch {
	case c.URL != "":
		return api.NewClient(c.URL, c.Token)
	case c.TURNSecret != "":
		return &api.SecretIssuer{Secret: c.TURNSecret, URIs: c.TURNURIs, STUN: c.STUN}
	}
	return nil
}

func run(parent context.Context, cfg *config.Config, role domain.Role) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[main] received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	lf := loggerFactory(cfg.LogLevel)

	bus, closeBus, err := signal.Dial(ctx, cfg.Bus, cfg.ID)
	if err != nil {
		return fmt.Errorf("dial bus: %w", err)
	}
	defer closeBus()

	transport, err := webrtc.NewTransport(lf)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	var fallback []domain.ICEServer
	for _, uri := range cfg.Credentials.STUN {
		fallback = append(fallback, domain.ICEServer{URLs: []string{uri}})
	}
	creds := credentials.NewManager(credentials.Config{
		Service:       credentialService(cfg.Credentials),
		LocalID:       cfg.ID,
		Fallback:      fallback,
		Margin:        cfg.Timing.RefreshMargin,
		MinDelay:      cfg.Timing.MinDelay,
		LoggerFactory: lf,
	})

	var collector metrics.Collector = metrics.Nop{}
	var prom *metrics.PrometheusCollector
	if cfg.MetricsAddr != "" {
		prom = metrics.NewPrometheusCollector()
		collector = prom
	}

	var participants []domain.Participant
	if cfg.ActorID != "" && cfg.ActorID != cfg.ID {
		participants = append(participants, domain.Participant{ID: cfg.ActorID, Role: domain.RoleActor})
	}

	ocfg := orchestrator.Config{
		LocalID:       cfg.ID,
		DisplayName:   cfg.Name,
		Session:       cfg.Session,
		Transport:     transport,
		Bus:           bus,
		Credentials:   creds,
		Metrics:       collector,
		SettleDelay:   cfg.Timing.SettleDelay,
		LoggerFactory: lf,
	}

	var sources []*webrtc.FileSource
	switch role {
	case domain.RoleActor:
		if len(cfg.Media.Sources) == 0 {
			return errors.New("an actor needs at least one --source")
		}
		for i, path := range cfg.Media.Sources {
			src, err := webrtc.NewFileSource(fmt.Sprintf("source-%d", i), path, cfg.Media.FPS, lf)
			if err != nil {
				return fmt.Errorf("source %s: %w", path, err)
			}
			sources = append(sources, src)
			path := path
			go func() {
				if err := src.Run(ctx); err != nil {
					log.Printf("[main] source %s: %v", path, err)
				}
			}()
		}
	case domain.RoleViewer:
		ocfg.OnRemoteTrack = func(from string, t domain.RemoteTrack) {
			rt, ok := t.(*webrtc.RemoteTrack)
			if !ok {
				return
			}
			if t.Kind() != domain.KindVideo {
				go rt.Drain()
				return
			}
			go func() {
				if err := rt.WriteH264(os.Stdout); err != nil {
					log.Printf("[main] track from %s ended: %v", from, err)
				}
			}()
		}
	}

	orch := orchestrator.New(ocfg)

	var initial domain.MediaSource
	if len(sources) > 0 {
		initial = sources[0]
	}
	if err := orch.Start(ctx, role, initial, participants); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer orch.Stop()
	log.Printf("[main] %s %s joined %s via %s", role, cfg.ID, cfg.Session, cfg.Bus)

	if prom != nil {
		srv := statusServer(cfg.MetricsAddr, prom, orch)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[main] metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if len(sources) > 1 {
		go swapOnSignal(ctx, orch, sources)
	}

	<-ctx.Done()
	log.Printf("[main] shutting down")
	return nil
}

// swapOnSignal cycles the active source on every SIGUSR1.
func swapOnSignal(ctx context.Context, orch *orchestrator.Orchestrator, sources []*webrtc.FileSource) {
	usr1 := make(chan os.Signal, 1)
	ossignal.Notify(usr1, syscall.SIGUSR1)
	defer ossignal.Stop(usr1)

	active := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			active = (active + 1) % len(sources)
			log.Printf("[main] switching to %s", sources[active].ID())
			if err := orch.SetLocalSource(sources[active]); err != nil {
				log.Printf("[main] switch source: %v", err)
			}
		}
	}
}

func statusServer(addr string, prom *metrics.PrometheusCollector, orch *orchestrator.Orchestrator) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(prom.Handler()))
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Status())
	})
	return &http.Server{Addr: addr, Handler: r}
}
