package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/database"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run one face verification session",
	Long: `Run one bounded live-capture verification session and print the outcome.

Frames come from a directory of images (sorted by name) or from the camera
snapshot endpoint in CAMERA_URL. The session stops at the first frame whose
face matches an enrolled template, when the frames run out or when the
timeout expires.

Exit status is 0 when accepted, 1 when rejected and 2 when aborted.

Examples:
  # Verify against a recorded sequence of frames
  faceauth verify --frames ./capture

  # Verify from the configured camera with a 10 second budget
  faceauth verify --timeout 10s`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("frames", "", "Directory of frame images (default: CAMERA_URL)")
	verifyCmd.Flags().Duration("timeout", 0, "Session timeout (overrides FACE_TIMEOUT)")
	verifyCmd.Flags().Bool("skip-stalled", false, "Skip frames identical to the previous one")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
}

// exitError carries a process exit status.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if timeout := mustGetDuration(cmd, "timeout"); timeout > 0 {
		cfg.Face.Timeout = timeout
	}

	var open capture.Opener
	if dir := mustGetString(cmd, "frames"); dir != "" {
		open = capture.OpenDir(dir)
	} else if cfg.Camera.URL != "" {
		open = capture.OpenSnapshot(cfg.Camera.URL, cfg.Camera.MaxDroppedFrames)
	} else {
		return errors.New("either --frames or CAMERA_URL is required")
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	templates, err := database.GetTemplateReader(ctx)
	if err != nil {
		return err
	}
	ex := loadExtractor(ctx, cfg, logger)
	session := newCaptureSession(cfg, ex, templates, mustGetBool(cmd, "skip-stalled"), logger)

	out, runErr := session.Run(ctx, open)

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding outcome: %w", err)
		}
	} else {
		printOutcome(out, runErr)
	}

	cmd.SilenceUsage = true
	switch {
	case runErr != nil:
		cmd.SilenceErrors = true
		return &exitError{code: 2}
	case !out.Accepted:
		cmd.SilenceErrors = true
		return &exitError{code: 1}
	}
	return nil
}

func printOutcome(out *capture.Outcome, err error) {
	fmt.Printf("Attempt:  %s\n", out.AttemptID)
	fmt.Printf("State:    %s\n", out.State)
	if out.Reason != "" {
		fmt.Printf("Reason:   %s\n", out.Reason)
	}
	if out.Accepted {
		fmt.Printf("Identity: %s\n", out.Identity)
	}
	if out.Distance != nil {
		fmt.Printf("Distance: %.4f\n", *out.Distance)
	}
	fmt.Printf("Frames:   %d\n", out.Frames)
	if err != nil {
		fmt.Printf("Error:    %v\n", err)
	}
}
