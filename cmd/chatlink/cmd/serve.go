package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/risa-org/chatlink/handshake"
	"github.com/risa-org/chatlink/metrics"
	"github.com/risa-org/chatlink/server"
	"github.com/risa-org/chatlink/session"
	"github.com/risa-org/chatlink/store/file"
	"github.com/risa-org/chatlink/store/memory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var storeDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a chatlink endpoint",
	Long: `serve runs the reference endpoint. It always listens for framed TCP on CHATLINK_ADDR,
and additionally serves websockets on CHATLINK_WS_ADDR, consumes CHATLINK_AMQP_QUEUE on
CHATLINK_AMQP_URL and exposes prometheus metrics on CHATLINK_METRICS_ADDR when those are set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("store") {
			cfg.StoreDir = storeDir
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&storeDir, "store", "", "directory for uploaded files (in memory when empty)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	srv, err := buildServer()
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return srv.ListenTCP(ctx, cfg.Addr)
	})

	if cfg.WebSocketAddr != "" {
		eg.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle(cfg.WebSocketPath, srv.WebSocketHandler())
			return serveHTTP(ctx, cfg.WebSocketAddr, mux)
		})
	}

	if cfg.AMQPURL != "" {
		eg.Go(func() error {
			return srv.ServeAMQP(ctx, cfg.AMQPURL, cfg.AMQPQueue)
		})
	}

	if cfg.MetricsAddr != "" {
		eg.Go(func() error {
			return metrics.Serve(ctx, cfg.MetricsAddr, logger)
		})
	}

	err = eg.Wait()
	logger.Info("endpoint stopped", zap.Error(err))
	return err
}

func buildServer() (*server.Server, error) {
	var issuer *session.TokenIssuer
	if cfg.TokenKey != "" {
		issuer = session.NewTokenIssuer([]byte(cfg.TokenKey))
	} else {
		var err error
		if issuer, err = session.NewRandomTokenIssuer(); err != nil {
			return nil, err
		}
		logger.Warn("no CHATLINK_TOKEN_KEY set, credentials will not survive a restart")
	}

	var store server.FileStore = memory.New()
	if cfg.StoreDir != "" {
		fs, err := file.New(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		store = fs
		logger.Info("file store opened", zap.String("dir", cfg.StoreDir), zap.Int("files", fs.Count()))
	}

	return server.New(store, handshake.NewHandler(issuer, cfg.Secret),
		server.WithLogger(logger),
		server.WithMaxFrameSize(cfg.MaxFrameSize),
	), nil
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving websockets", zap.String("addr", addr), zap.String("path", cfg.WebSocketPath))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
