package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/marmos91/scalebridge/internal/cli/output"
	"github.com/marmos91/scalebridge/internal/cli/prompt"
	"github.com/marmos91/scalebridge/pkg/config"
	"github.com/marmos91/scalebridge/pkg/discovery"
	"github.com/spf13/cobra"
)

var (
	discoverSteps       int
	discoverMinSteps    int
	discoverCaptureTime time.Duration
	discoverNoSave      bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the scale's wire protocol",
	Long: `Run protocol discovery against the connected scale.

Discovery first captures a baseline of the scale's output and tests it
against the template library. When no template matches with sufficient
confidence, a guided session walks you through placing known weights on
the scale; the observed stream is correlated with the expected values and
a new protocol template is synthesized.

Examples:
  # Run discovery with defaults
  scalebridge discover

  # More guided steps with longer capture windows
  scalebridge discover --steps 5 --capture-time 15s

  # Discover without persisting the synthesized template
  scalebridge discover --no-save`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverSteps, "steps", 3, "Number of guided weight placements")
	discoverCmd.Flags().IntVar(&discoverMinSteps, "min-steps", 2, "Completed steps required before a template is synthesized")
	discoverCmd.Flags().DurationVar(&discoverCaptureTime, "capture-time", 10*time.Second, "Stream capture window per guided step")
	discoverCmd.Flags().BoolVar(&discoverNoSave, "no-save", false, "Do not persist the synthesized template")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	if discoverNoSave {
		cfg.Discovery.SaveTemplates = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := config.CreateTemplateStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tc := config.CreateTransport(cfg)
	if err := tc.Start(ctx); err != nil {
		return err
	}
	defer tc.Stop()

	sv := discovery.NewSupervisor(store)
	sv.SetSessionTTL(cfg.Discovery.SessionTTL)
	go sv.Run(ctx)

	fmt.Printf("Connecting to %s and capturing baseline output...\n", tc.Addr())

	sessionID, err := sv.Start(ctx, tc, cfg.DiscoveryConfig(), cfg.StabilityConfig())
	if err != nil {
		return err
	}

	status, err := waitForAutomatic(ctx, sv, sessionID)
	if err != nil {
		_ = sv.Cancel(sessionID)
		return err
	}

	if status.Phase == discovery.PhaseCompleted {
		result, err := sv.Complete(ctx, sessionID, cfg.Discovery.SaveTemplates)
		if err != nil {
			return err
		}
		printResult(result, cfg.Discovery.SaveTemplates)
		return nil
	}
	if status.Phase.Terminal() {
		return fmt.Errorf("discovery failed: %s", status.FailReason)
	}

	// Parked in interactive discovery: no template matched with enough
	// confidence, or the baseline yielded no usable frames.
	fmt.Printf("\nNo template matched (best: %s at %.1f%%, captured %d frames).\n",
		orDash(status.BestTemplate), status.BestConfidence, status.CapturedFrames)

	proceed, err := prompt.Confirm("Run guided discovery with known weights", true)
	if err != nil || !proceed {
		_ = sv.Cancel(sessionID)
		return err
	}

	for {
		guidance, err := buildGuidance()
		if err != nil {
			_ = sv.Cancel(sessionID)
			return err
		}
		printScript(guidance)

		ready, err := prompt.Confirm("Ready to begin capture", true)
		if err != nil || !ready {
			_ = sv.Cancel(sessionID)
			return err
		}

		corr, err := sv.ContinueInteractive(ctx, sessionID, guidance)
		if err != nil {
			_ = sv.Cancel(sessionID)
			return fmt.Errorf("guided discovery failed: %w", err)
		}

		fmt.Printf("\nCorrelation: %.1f%% (%d completed, %d failed) - %s\n",
			corr.Overall, corr.CompletedSteps, corr.FailedSteps, corr.RecommendedAction)

		st, err := sv.GetStatus(sessionID)
		if err != nil {
			return err
		}
		if st.Phase.Terminal() {
			result, err := sv.Complete(ctx, sessionID, cfg.Discovery.SaveTemplates)
			if err != nil {
				return err
			}
			printResult(result, cfg.Discovery.SaveTemplates)
			return nil
		}

		again, err := prompt.Confirm("Correlation too low to synthesize a template. Capture more steps", true)
		if err != nil || !again {
			_ = sv.Cancel(sessionID)
			fmt.Println("Discovery cancelled.")
			return err
		}
	}
}

// waitForAutomatic polls the session until baseline capture and template
// testing finish, printing phase transitions as they happen.
func waitForAutomatic(ctx context.Context, sv *discovery.Supervisor, sessionID string) (discovery.Status, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastPhase discovery.Phase = -1
	for {
		select {
		case <-ctx.Done():
			return discovery.Status{}, ctx.Err()
		case <-ticker.C:
			status, err := sv.GetStatus(sessionID)
			if err != nil {
				return discovery.Status{}, err
			}
			if status.Phase != lastPhase {
				lastPhase = status.Phase
				fmt.Printf("  [%s] frames: %d\n", status.Phase, status.CapturedFrames)
			}
			if status.Phase.Terminal() || status.Phase == discovery.PhaseInteractiveDiscovery {
				return status, nil
			}
		}
	}
}

// buildGuidance prompts the operator for the known weights of each step.
func buildGuidance() (discovery.InteractiveGuidance, error) {
	guidance := discovery.InteractiveGuidance{MinimumSteps: discoverMinSteps}

	for i := 1; i <= discoverSteps; i++ {
		raw, err := prompt.InputWithValidation(
			fmt.Sprintf("Known weight for step %d (e.g. 500.0)", i),
			func(s string) error {
				_, err := strconv.ParseFloat(s, 64)
				return err
			},
		)
		if err != nil {
			return discovery.InteractiveGuidance{}, err
		}
		weight, _ := strconv.ParseFloat(raw, 64)

		guidance.Steps = append(guidance.Steps, discovery.StepGuidance{
			Action:         "place_weight",
			ExpectedWeight: &weight,
			Instructions:   fmt.Sprintf("Place %.1f on the scale and keep it steady", weight),
			CaptureTime:    discoverCaptureTime,
		})
	}
	if guidance.MinimumSteps > len(guidance.Steps) {
		guidance.MinimumSteps = len(guidance.Steps)
	}
	return guidance, nil
}

// printScript prints the guided steps and their capture windows.
func printScript(guidance discovery.InteractiveGuidance) {
	fmt.Println("\nGuided discovery script:")
	for i, s := range guidance.Steps {
		fmt.Printf("  Step %d (%s): %s\n", i+1, s.CaptureTime, s.Instructions)
	}
	fmt.Printf("\nEach step captures the stream for %s. Follow the instructions as each step starts.\n",
		guidance.Steps[0].CaptureTime)
}

// printResult prints the terminal discovery result.
func printResult(result discovery.Result, saved bool) {
	fmt.Println()
	if !result.Success {
		fmt.Printf("Discovery did not complete: %s\n", result.Reason)
		return
	}

	pairs := [][2]string{
		{"Session", result.SessionID},
		{"Template", result.BestTemplate.TemplateName},
		{"Confidence", fmt.Sprintf("%.1f%%", result.Confidence)},
		{"Captured frames", strconv.Itoa(result.CapturedFrames)},
		{"Templates tested", strconv.Itoa(result.TestedTemplates)},
		{"Interactive steps", strconv.Itoa(result.InteractiveSteps)},
		{"Duration", result.Duration.Round(time.Second).String()},
	}
	_ = output.SimpleTable(os.Stdout, pairs)

	if saved {
		fmt.Printf("\nTemplate %q saved. Start ingesting with: scalebridge start\n",
			result.BestTemplate.TemplateName)
	} else {
		fmt.Println("\nTemplate not persisted (--no-save).")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
