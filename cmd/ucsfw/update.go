package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MallocArray/Update-UCSFirmware/pkg/config"
	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
	"github.com/MallocArray/Update-UCSFirmware/pkg/logging"
	"github.com/MallocArray/Update-UCSFirmware/pkg/rollout"
	"github.com/MallocArray/Update-UCSFirmware/pkg/sim"
	"github.com/MallocArray/Update-UCSFirmware/pkg/ucs"
	"github.com/MallocArray/Update-UCSFirmware/pkg/vsphere"
)

var (
	updateConfigFile     string
	updatePattern        string
	updateTarget         string
	updateBaseline       string
	updateAllowAmbiguous bool
	updateYes            bool
	updateTimeout        time.Duration
	updateFormat         string
	updateOutput         string
	updateSimulate       bool
	updateScenario       string
)

var updateCmd = &cobra.Command{
	Use:   "update <cluster>",
	Short: "Roll a firmware policy across a cluster, one host at a time",
	Long: `Roll a host firmware pack across the UCS servers backing a vSphere
cluster, strictly one host at a time.

For every matching host, in name order:
1. Resolve   - Correlate the host to its UCS service profile by the MAC
               address of its first active network adapter
2. Validate  - Verify the target pack exists exactly once in the profile's
               org; skip hosts already running it
3. Drain     - Enter maintenance mode and wait for workloads to evacuate
4. Power     - Graceful OS shutdown, then confirm hardware power-off
5. Firmware  - Bind the target host firmware pack, trigger every pending
               maintenance acknowledgment, wait for re-association
6. Rejoin    - Power on, wait for the host to reconnect, exit maintenance

A host failing any step is recorded and the run continues with the next
host, so at most one host is ever out of service. Hosts already on the
target pack are skipped, which makes reruns safe after a partial failure.

Credentials and endpoints come from the config file (see --config) and
can be overridden through UCSFW_* environment variables, e.g.
UCSFW_UCS_PASSWORD.

Examples:
  # Preview what a run would do
  ucsfw plan prod-a --target "4.1(3b)" --config ucsfw.yaml

  # Roll the pack across every esx-* host
  ucsfw update prod-a --pattern "esx*" --target "4.1(3b)" --config ucsfw.yaml

  # Apply a patch baseline while each host is drained
  ucsfw update prod-a --target "4.1(3b)" --baseline critical-host-patches --config ucsfw.yaml

  # Exercise the whole flow against the built-in simulated fabric
  ucsfw update prod-a --pattern "esx*" --target "4.1(3b)" --simulate

  # Unattended run with a YAML summary for auditing
  ucsfw update prod-a --target "4.1(3b)" --yes --format yaml --output run.yaml --config ucsfw.yaml
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cluster := args[0]

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if updateTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, updateTimeout)
			defer cancel()
		}

		cfg, err := loadRunConfig()
		if err != nil {
			return err
		}
		if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
			return err
		}

		if !updateYes && !updateSimulate {
			fmt.Printf("\n⚠️  Roll firmware policy %q across cluster %q (pattern %q)?\n", updateTarget, cluster, updatePattern)
			fmt.Printf("Each matching host will be drained, shut down, and power-cycled in turn.\n")
			fmt.Printf("\nDo you want to continue? (yes/no): ")
			var response string
			fmt.Scanln(&response)
			if response != "yes" && response != "y" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		fleetMgr, hwMgr, cleanup, err := buildManagers(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		orch, err := newOrchestrator(cfg, fleetMgr, hwMgr, cluster, rollout.NewProgress(os.Stdout))
		if err != nil {
			return err
		}

		summary, err := orch.Run(ctx)
		if err != nil {
			return err
		}

		if err := emitResult(summary.Render, summary.Marshal); err != nil {
			return err
		}
		if summary.HasFailures() {
			return fmt.Errorf("%d of %d host(s) failed; rerun after addressing the failures, already-updated hosts will be skipped",
				summary.Failed, len(summary.Records))
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <cluster>",
	Short: "Preview a rolling update without changing anything",
	Long: `Resolve and validate every host a rolling update would touch and
report the would-be action per host: update, skip, or fail. No mutating
call is issued against either control plane.

Examples:
  # Preview the rollout of a new pack
  ucsfw plan prod-a --target "4.1(3b)" --config ucsfw.yaml

  # Preview against the simulated fabric, exported as JSON
  ucsfw plan prod-a --target "4.1(3b)" --simulate --format json
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cluster := args[0]

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfg, err := loadRunConfig()
		if err != nil {
			return err
		}
		if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
			return err
		}

		fleetMgr, hwMgr, cleanup, err := buildManagers(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		orch, err := newOrchestrator(cfg, fleetMgr, hwMgr, cluster, nil)
		if err != nil {
			return err
		}

		preview, err := orch.Preview(ctx)
		if err != nil {
			return err
		}
		return emitResult(preview.Render, preview.Marshal)
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(planCmd)

	updateCmd.Flags().StringVarP(&updateConfigFile, "config", "c", "", "Path to the YAML config file (endpoints, credentials, wait tuning)")
	updateCmd.Flags().StringVar(&updatePattern, "pattern", "*", "Shell glob selecting hosts by name within the cluster")
	updateCmd.Flags().StringVar(&updateTarget, "target", "", "Host firmware pack to roll out (required)")
	updateCmd.Flags().StringVar(&updateBaseline, "baseline", "", "Compliance baseline to remediate while each host is drained")
	updateCmd.Flags().BoolVar(&updateAllowAmbiguous, "allow-ambiguous", false, "Resolve an identity matching several profiles to the lowest DN instead of failing the host")
	updateCmd.Flags().BoolVar(&updateYes, "yes", false, "Skip confirmation prompt")
	updateCmd.Flags().DurationVarP(&updateTimeout, "timeout", "t", 0, "Overall run timeout (0 = bounded per stage only)")
	updateCmd.Flags().StringVar(&updateFormat, "format", "text", "Summary format: text, yaml, json")
	updateCmd.Flags().StringVarP(&updateOutput, "output", "o", "", "Write the summary to a file instead of stdout")
	updateCmd.Flags().BoolVar(&updateSimulate, "simulate", false, "Run against an in-memory fabric; no real system is touched")
	updateCmd.Flags().StringVar(&updateScenario, "scenario", "", "Scenario YAML for --simulate (default: built-in reference fabric)")

	planCmd.Flags().StringVarP(&updateConfigFile, "config", "c", "", "Path to the YAML config file (endpoints, credentials, wait tuning)")
	planCmd.Flags().StringVar(&updatePattern, "pattern", "*", "Shell glob selecting hosts by name within the cluster")
	planCmd.Flags().StringVar(&updateTarget, "target", "", "Host firmware pack to roll out (required)")
	planCmd.Flags().BoolVar(&updateAllowAmbiguous, "allow-ambiguous", false, "Resolve an identity matching several profiles to the lowest DN instead of failing the host")
	planCmd.Flags().StringVar(&updateFormat, "format", "text", "Plan format: text, yaml, json")
	planCmd.Flags().StringVarP(&updateOutput, "output", "o", "", "Write the plan to a file instead of stdout")
	planCmd.Flags().BoolVar(&updateSimulate, "simulate", false, "Plan against an in-memory fabric; no real system is touched")
	planCmd.Flags().StringVar(&updateScenario, "scenario", "", "Scenario YAML for --simulate (default: built-in reference fabric)")
}

// loadRunConfig loads the config file and environment. Simulation runs
// skip endpoint validation so log and wait tuning work without real
// credentials.
func loadRunConfig() (*config.Config, error) {
	if updateSimulate {
		return config.LoadFile(updateConfigFile)
	}
	if updateConfigFile == "" && os.Getenv("UCSFW_VCENTER_URL") == "" {
		return nil, fmt.Errorf("--config is required (or set UCSFW_* environment variables)")
	}
	return config.Load(updateConfigFile)
}

// buildManagers wires the two control planes: real API clients, or the
// simulated world when --simulate is set. The returned cleanup closes the
// API sessions.
func buildManagers(ctx context.Context, cfg *config.Config) (fleet.Manager, hardware.Manager, func(), error) {
	if updateSimulate {
		fmt.Println("[SIMULATION] Running against an in-memory fabric - no actual changes will be made")
		scenario := sim.DefaultScenario()
		if updateScenario != "" {
			fmt.Printf("[SIMULATION] Loading scenario from: %s\n", updateScenario)
			var err error
			scenario, err = sim.LoadScenario(updateScenario)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to load scenario: %w", err)
			}
		}
		world, err := sim.NewWorld(scenario)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to build simulated world: %w", err)
		}
		return world.Fleet(), world.Hardware(), func() {}, nil
	}

	vc, err := vsphere.NewClient(vsphere.Config{
		URL:      cfg.VCenter.URL,
		Username: cfg.VCenter.Username,
		Password: cfg.VCenter.Password,
		Insecure: cfg.VCenter.Insecure,
		Log:      logrus.WithField("component", "vsphere"),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	uc, err := ucs.NewClient(ucs.Config{
		URL:      cfg.UCS.URL,
		Username: cfg.UCS.Username,
		Password: cfg.UCS.Password,
		Insecure: cfg.UCS.Insecure,
		Log:      logrus.WithField("component", "ucs"),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	if err := vc.Login(ctx); err != nil {
		return nil, nil, nil, err
	}
	if err := uc.Login(ctx); err != nil {
		if lerr := vc.Logout(context.Background()); lerr != nil {
			logrus.WithError(lerr).Warn("failed to close vcenter session")
		}
		return nil, nil, nil, err
	}

	cleanup := func() {
		// The run context may already be cancelled; session teardown gets
		// its own.
		if err := uc.Logout(context.Background()); err != nil {
			logrus.WithError(err).Warn("failed to close ucs session")
		}
		if err := vc.Logout(context.Background()); err != nil {
			logrus.WithError(err).Warn("failed to close vcenter session")
		}
	}
	return vc, uc, cleanup, nil
}

func newOrchestrator(cfg *config.Config, fleetMgr fleet.Manager, hwMgr hardware.Manager, cluster string, progress *rollout.Progress) (*rollout.Orchestrator, error) {
	waits, err := cfg.WaitConfig()
	if err != nil {
		return nil, err
	}
	return rollout.NewOrchestrator(rollout.Config{
		Fleet:          fleetMgr,
		Hardware:       hwMgr,
		Cluster:        cluster,
		Pattern:        updatePattern,
		Target:         updateTarget,
		Baseline:       updateBaseline,
		AllowAmbiguous: updateAllowAmbiguous || cfg.AllowAmbiguousIdentity,
		Waits:          waits,
		Progress:       progress,
	})
}

// emitResult writes the run artifact in the selected format, to stdout or
// the --output file.
func emitResult(render func(io.Writer), marshal func(format string) ([]byte, error)) error {
	var out io.Writer = os.Stdout
	if updateOutput != "" {
		f, err := os.Create(updateOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if updateFormat == "text" {
		render(out)
		return nil
	}
	data, err := marshal(updateFormat)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
