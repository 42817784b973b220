package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/elvischenv/srt-slurm/internal/config"
	"github.com/elvischenv/srt-slurm/internal/httpapi"
	"github.com/elvischenv/srt-slurm/internal/launcher"
	"github.com/elvischenv/srt-slurm/internal/orchestrator"
	"github.com/elvischenv/srt-slurm/internal/registry"
	"github.com/elvischenv/srt-slurm/internal/report"
	"github.com/elvischenv/srt-slurm/internal/runtime"
	"github.com/elvischenv/srt-slurm/internal/submit"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func execute() int {
	exitCode := 0
	root := buildRootCmd(&exitCode)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return exitCode
}

func buildRootCmd(exitCode *int) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "srtctl",
		Short:         "Launch and orchestrate disaggregated serving jobs on SLURM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")

	newLog := func() zerolog.Logger {
		lvl, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			lvl = zerolog.InfoLevel
		}
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	}

	// apply: submit a job (or a sweep of jobs) from outside the cluster.
	var (
		applyFile   string
		applySweep  bool
		applyDryRun bool
		applyTags   []string
		logDirBase  string
	)
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Submit a job config (or every variant of a sweep) via sbatch",
		Example: "  srtctl apply -f deepseek-r1.yaml\n" +
			"  srtctl apply -f sweep.yaml --sweep --tags nightly",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog()
			sub := submit.New(logDirBase, nil, log)

			if applySweep || config.IsSweep(applyFile) {
				jobs, err := config.LoadSweep(applyFile)
				if err != nil {
					return err
				}
				log.Info().Int("variants", len(jobs)).Msg("submitting sweep")
				reporterFromFirst(jobs, sub, log)
				_, err = sub.SubmitAll(cmd.Context(), jobs, applyDryRun, applyTags)
				return err
			}

			cfg, err := config.Load(applyFile)
			if err != nil {
				return err
			}
			sub.Reporter = report.New(cfg, log)
			_, err = sub.Submit(cmd.Context(), cfg, applyDryRun, applyTags)
			return err
		},
	}
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "Job config file (yaml/json/toml)")
	applyCmd.Flags().BoolVar(&applySweep, "sweep", false, "Treat the config as a sweep even without a sweep section")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Write artifacts without submitting")
	applyCmd.Flags().StringSliceVar(&applyTags, "tags", nil, "Tags recorded in the submission metadata")
	applyCmd.Flags().StringVar(&logDirBase, "log-dir", "logs", "Base directory for logs and artifacts")
	_ = applyCmd.MarkFlagRequired("file")
	root.AddCommand(applyCmd)

	// dry-run: apply --dry-run under its own name.
	var dryFile string
	dryCmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Render the sbatch script and artifacts without submitting",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog()
			cfg, err := config.Load(dryFile)
			if err != nil {
				return err
			}
			sub := submit.New(logDirBase, nil, log)
			res, err := sub.Submit(cmd.Context(), cfg, true, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.ScriptPath)
			return nil
		},
	}
	dryCmd.Flags().StringVarP(&dryFile, "file", "f", "", "Job config file (yaml/json/toml)")
	dryCmd.Flags().StringVar(&logDirBase, "log-dir", "logs", "Base directory for logs and artifacts")
	_ = dryCmd.MarkFlagRequired("file")
	root.AddCommand(dryCmd)

	// run: the in-allocation entrypoint execed by the batch script.
	var (
		statusAddr string
		runLogDir  string
	)
	runCmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run a job inside its SLURM allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog()
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			jobID := runtime.JobIDOrLocal()
			nodelist, err := runtime.SlurmNodeList()
			if err != nil {
				return fmt.Errorf("resolve nodelist: %w", err)
			}
			nodes, err := runtime.NodesFromList(nodelist, false)
			if err != nil {
				return err
			}
			rt, err := runtime.NewContext(cfg, jobID, nodes, runLogDir)
			if err != nil {
				return err
			}
			log.Info().
				Str("job_id", jobID).
				Str("run", rt.RunName).
				Str("head", nodes.Head).
				Int("workers", len(nodes.Worker)).
				Msg("starting run")

			reg := registry.New(jobID, log)
			orch := orchestrator.New(cfg, rt, launcher.NewSrunStarter(log), reg, report.New(cfg, log), log)

			srv := httpapi.NewServer(statusAddr, orch, log)
			srv.Start()
			defer srv.Shutdown()

			*exitCode = orch.Run(cmd.Context())
			return nil
		},
	}
	runCmd.Flags().StringVar(&statusAddr, "status-addr", ":8042", "Listen address of the status API")
	runCmd.Flags().StringVar(&runLogDir, "log-dir", "logs", "Base directory for run logs")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the srtctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "srtctl", version)
		},
	})

	return root
}

// reporterFromFirst wires the submitter's reporter from the first sweep
// variant; all variants of one sweep share their reporting config.
func reporterFromFirst(jobs []config.SweepJob, sub *submit.Submitter, log zerolog.Logger) {
	if len(jobs) > 0 {
		sub.Reporter = report.New(jobs[0].Config, log)
	}
}
