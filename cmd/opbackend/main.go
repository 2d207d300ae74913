// Command opbackend is a development backend for oprelay. It serves the
// backend wire contract over HTTP and websocket, or over native-messaging
// frames on stdin/stdout when started by the relay's native transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/backend"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

var (
	token         string
	cipherKey     string
	contextRoot   string
	heartbeatRoot string
	dev           bool
)

func main() {
	root := &cobra.Command{
		Use:   "opbackend [service]",
		Short: "Development backend for oprelay",
		Long: `opbackend answers relay requests without doing any applet processing.
Run without a subcommand it speaks native messaging on stdin/stdout, which
is how the relay's native transport starts it.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNative(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&token, "token", "", "Accepted personal token (empty accepts any)")
	root.PersistentFlags().StringVar(&cipherKey, "cipher-key", "", "Static Triple DES key, base64")
	root.PersistentFlags().StringVar(&contextRoot, "context-root", settings.DefaultContextRoot, "Operation path")
	root.PersistentFlags().StringVar(&heartbeatRoot, "heartbeat-root", settings.DefaultHeartbeatRoot, "Heartbeat path")
	root.PersistentFlags().BoolVar(&dev, "dev", false, "Development mode (colored logs, debug level)")

	var addr string
	httpCmd := &cobra.Command{
		Use:   "http",
		Short: "Serve HTTP and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHTTP(cmd.Context(), addr)
		},
	}
	httpCmd.Flags().StringVar(&addr, "addr", fmt.Sprintf("%s:%d", settings.DefaultHost, settings.DefaultPort), "Listen address")

	nativeCmd := &cobra.Command{
		Use:   "native",
		Short: "Speak native messaging on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNative(cmd.Context())
		},
	}

	root.AddCommand(httpCmd, nativeCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newBackend() (*backend.Backend, *logging.Logger, error) {
	// logs go to stderr; stdout carries native frames
	logger := logging.NewDefault()
	if dev {
		logger = logging.NewDevelopment()
	}

	cfg := backend.Config{
		ContextRoot:   contextRoot,
		HeartbeatRoot: heartbeatRoot,
		CipherKey:     cipherKey,
		Logger:        logger.Logger,
	}
	if token != "" {
		hash, err := backend.HashToken(token)
		if err != nil {
			return nil, nil, fmt.Errorf("hash token: %w", err)
		}
		cfg.TokenHash = hash
	}
	return backend.New(cfg), logger, nil
}

func runNative(ctx context.Context) error {
	b, logger, err := newBackend()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Serving native messaging", zap.Int("pid", os.Getpid()))
	return b.ServeNative(ctx, os.Stdin, os.Stdout)
}

func runHTTP(ctx context.Context, addr string) error {
	b, logger, err := newBackend()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !dev {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           b.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting backend", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
