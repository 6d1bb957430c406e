package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceauth/internal/auth"
	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the faceauth login API.

Users log in with a password or with their face. Face login accepts a posted
still image (multipart "image" or JSON "image_data" data URL) or, when
CAMERA_URL is set and no image is posted, runs a live-capture session on the
camera. If the face model is unreachable the server still starts and only
password login is available.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (overrides WEB_SESSION_SECRET)")
	serveCmd.Flags().Bool("skip-stalled", true, "Skip camera frames identical to the previous one")
}

// applyServeFlags lets flags override the environment.
func applyServeFlags(cmd *cobra.Command, port *int, host, secret *string) {
	if p := mustGetInt(cmd, "port"); p > 0 {
		*port = p
	}
	if h := mustGetString(cmd, "host"); h != "" {
		*host = h
	}
	if s := mustGetString(cmd, "session-secret"); s != "" {
		*secret = s
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	templates, err := database.GetTemplateReader(ctx)
	if err != nil {
		return err
	}
	accounts, err := database.GetAccountWriter(ctx)
	if err != nil {
		return err
	}

	ex := loadExtractor(ctx, cfg, logger)
	session := newCaptureSession(cfg, ex, templates, mustGetBool(cmd, "skip-stalled"), logger)
	svc := auth.NewService(accounts, templates, ex, session, logger)

	var camera capture.Opener
	if cfg.Camera.URL != "" {
		camera = capture.NewDeviceLocks().Exclusive(cfg.Camera.URL, capture.OpenSnapshot(cfg.Camera.URL, cfg.Camera.MaxDroppedFrames))
		fmt.Printf("Live capture enabled (%s)\n", cfg.Camera.URL)
	}
	if st.sessionRepo != nil {
		fmt.Printf("Session persistence enabled (PostgreSQL)\n")
	}

	applyServeFlags(cmd, &cfg.Web.Port, &cfg.Web.Host, &cfg.Web.SessionSecret)
	server := web.NewServer(cfg, svc, camera, st.sessionRepo, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting faceauth on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
