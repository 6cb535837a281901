package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/stillframe/internal/config"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a single still and print its path",
	Long: `Start the configured frame source, save the next frame as an upright
JPEG and print the file path on stdout.`,
	Example: `  # Grab one frame from the test pattern
  stillframe capture

  # Grab the screen as if the device were held in landscape
  stillframe capture --source x11 --orientation 90`,
	RunE: runCapture,
}

var captureOrientation int

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().IntVar(&captureOrientation, "orientation", -1, "raw sensor reading in degrees to assume (0-359)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("orientation") {
		reading := captureOrientation
		if err := configMgr.Override(func(cfg *config.Config) {
			cfg.Orientation.Enabled = true
			cfg.Orientation.Fixed = &reading
		}); err != nil {
			return err
		}
	}

	a, err := newApp(configMgr.Get())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// arm before frames flow so the very first frame is eligible
	req, err := a.capturer.RequestCapture()
	if err != nil {
		return err
	}

	if err := a.start(ctx); err != nil {
		a.capturer.Close()
		return err
	}
	defer a.stop()

	artifact, err := req.Wait(ctx)
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), artifact.Path)
	return nil
}
