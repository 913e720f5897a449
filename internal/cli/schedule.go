package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
)

// cronParser accepts the five field cron expressions of crontab(5).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newScheduleCmd() *cobra.Command {
	var (
		cronExpr string
		watch    bool
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule <conf>",
		Short: "Run invocations periodically",
		Long: `Stay resident and run one invocation per cron tick. When --watch is set,
the creation of a run directory in an instrument output directory triggers an
extra invocation. Every invocation takes the process lock, so the command can
run alongside a cron entry.

Examples:
  # Every ten minutes
  aozan schedule /etc/aozan.conf --cron "*/10 * * * *"

  # Hourly, and as soon as a new run appears
  aozan schedule /etc/aozan.conf --cron @hourly --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confPath := args[0]
			logger := GetLogger()
			ctx := GetContext()

			schedule, err := cronParser.Parse(cronExpr)
			if err != nil {
				return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
			}

			triggers := make(chan string, 1)
			fire := func(reason string) {
				select {
				case triggers <- reason:
				default:
					// An invocation is already pending.
				}
			}

			c := cron.New(cron.WithParser(cronParser))
			c.Schedule(schedule, cron.FuncJob(func() { fire("cron") }))
			c.Start()
			defer c.Stop()

			if watch {
				cfg, err := config.Load(confPath)
				if err != nil {
					return err
				}
				w, err := newRunWatcher(cfg.HiSeqDataPaths, debounce, fire, logger)
				if err != nil {
					return err
				}
				defer w.Close()
				go w.Run(ctx)
			}

			logger.Info().Str("cron", cronExpr).Bool("watch", watch).
				Time("next", schedule.Next(time.Now())).Msg("Scheduler started")

			opts := Options{Quiet: true, Debug: debug, Stderr: cmd.ErrOrStderr()}
			for {
				select {
				case <-ctx.Done():
					logger.Info().Msg("Scheduler stopped")
					return nil
				case reason := <-triggers:
					logger.Debug().Str("trigger", reason).Msg("Starting invocation")
					if err := Invoke(ctx, confPath, opts); err != nil && !errors.Is(err, ErrStepFailed) {
						logger.Error().Err(err).Str("trigger", reason).Msg("Invocation failed")
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "*/10 * * * *", "Cron expression of the invocations")
	cmd.Flags().BoolVar(&watch, "watch", false, "Also run when a new run directory appears")
	cmd.Flags().DurationVar(&debounce, "debounce", constants.WatchDebounce, "Delay between a new run directory and the invocation")
	return cmd
}
