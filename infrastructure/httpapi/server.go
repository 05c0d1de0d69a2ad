// Package httpapi exposes the inbox over HTTP: JSON endpoints for commands and
// queries, and server-sent event streams for realtime updates.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"marketplace-inbox/auth"
	"marketplace-inbox/domain"
	"marketplace-inbox/runtime"
	"marketplace-inbox/search"
	"marketplace-inbox/services"
)

const defaultHeartbeat = 25 * time.Second

type TokenValidator interface {
	ValidateToken(token string) (*auth.CustomClaims, error)
}

type Subscriber interface {
	Subscribe(userID string, kind runtime.ChannelKind) *runtime.Subscription
	Presence(userID string) domain.Presence
}

type MessageSearcher interface {
	Search(ctx context.Context, userID, text string, limit int) ([]search.Hit, error)
}

// SignedFiles serves blobs behind signed URLs. Only the disk store implements it.
type SignedFiles interface {
	Open(key, exp, sig string) (*os.File, error)
}

// RequestObserver receives the latency of every handled request.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	Handler() http.Handler
}

type Config struct {
	Addr              string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	MaxUploadBytes    int64
	ShutdownTimeout   time.Duration
}

type Deps struct {
	Tokens        TokenValidator
	Conversations services.IConversationService
	Messages      services.IMessageService
	Inbox         services.IInboxService
	Attachments   services.IAttachmentService
	Notifier      Subscriber
	Search        MessageSearcher
	Files         SignedFiles
	Metrics       RequestObserver
}

// Server is a supervised worker wrapping the gin engine.
type Server struct {
	log    *slog.Logger
	cfg    Config
	engine *gin.Engine
}

func NewServer(log *slog.Logger, cfg Config, deps Deps) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.MaxMultipartMemory = cfg.MaxUploadBytes
	engine.Use(recovery(log), requestLogger(log, deps.Metrics))
	if len(cfg.AllowedOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	h := &handler{log: log, deps: deps, heartbeat: cfg.HeartbeatInterval, maxUpload: cfg.MaxUploadBytes}
	h.register(engine)
	return &Server{log: log, cfg: cfg, engine: engine}
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown incomplete", "error", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
