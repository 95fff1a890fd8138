package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/runner"
)

// plannedRow — шаг плана в JSON-выводе.
type plannedRow struct {
	Index    int           `json:"index"`
	Offset   time.Duration `json:"offset_ns"`
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Expect   int           `json:"expected_status"`
	Terminal bool          `json:"terminal"`
}

// NewActionCmd создаёт группу команд для работы с action.
func NewActionCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Inspect platform actions",
	}

	cmd.AddCommand(newActionPlanCmd(outputFn))

	return cmd
}

func newActionPlanCmd(outputFn func() *Output) *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "plan FILE ACTION",
		Short: "Show when each step of an action would run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			cfg, err := loadPlatformConfig(cmd, args[0])
			if err != nil {
				return err
			}

			instance := &domain.PlatformInstance{
				Platform: &domain.Platform{Name: args[0], Config: *cfg},
			}

			now := time.Now()
			plan, err := runner.Plan(instance, args[1], now, delay)
			if err != nil {
				return err
			}

			rows := make([][]string, len(plan))
			data := make([]plannedRow, len(plan))
			for i, p := range plan {
				req := p.Step.Request
				data[i] = plannedRow{
					Index:    p.Index,
					Offset:   p.RunAt.Sub(now),
					Method:   req.Method,
					URL:      req.BaseURL + req.Endpoint,
					Expect:   p.Step.ExpectedStatus,
					Terminal: p.Step.IsTerminal(),
				}
				rows[i] = []string{
					strconv.Itoa(p.Index),
					"+" + data[i].Offset.String(),
					req.Method,
					data[i].URL,
					strconv.Itoa(p.Step.ExpectedStatus),
					strconv.FormatBool(data[i].Terminal),
				}
			}

			return out.Print([]string{"STEP", "AT", "METHOD", "URL", "EXPECT", "TERMINAL"}, rows, data)
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", runner.DefaultDelay, "Delay between steps")

	return cmd
}
