package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/engine"
)

// NewPlatformCmd создаёт группу команд для работы с конфигурациями платформ.
func NewPlatformCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platform",
		Short: "Inspect platform configurations",
	}

	cmd.AddCommand(
		newPlatformValidateCmd(outputFn),
		newPlatformCredentialsCmd(outputFn),
	)

	return cmd
}

// actionSummary — строка отчёта validate.
type actionSummary struct {
	Action   string `json:"action"`
	Steps    int    `json:"steps"`
	Terminal int    `json:"terminal_step"`
}

func newPlatformValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a platform config and list its actions",
		Long:  "Validate a platform config against the schema and structural rules. Use - to read from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			cfg, err := loadPlatformConfig(cmd, args[0])
			if err != nil {
				return err
			}

			summaries := summarizeActions(cfg)
			rows := make([][]string, len(summaries))
			for i, s := range summaries {
				terminal := "-"
				if s.Terminal > 0 {
					terminal = strconv.Itoa(s.Terminal)
				}
				rows[i] = []string{s.Action, strconv.Itoa(s.Steps), terminal}
			}

			out.Success(fmt.Sprintf("Config is valid: %d action(s)", len(summaries)))
			return out.Print([]string{"ACTION", "STEPS", "TERMINAL"}, rows, summaries)
		},
	}
}

func newPlatformCredentialsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "credentials FILE",
		Short: "List credential keys required by a platform config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			cfg, err := loadPlatformConfig(cmd, args[0])
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(cfg.Instance))
			for key := range cfg.Instance {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			rows := make([][]string, len(keys))
			for i, key := range keys {
				rows[i] = []string{key, cfg.Instance[key]}
			}
			return out.Print([]string{"KEY", "DESCRIPTION"}, rows, cfg.Instance)
		},
	}
}

// loadPlatformConfig читает файл (или stdin для "-") и разбирает конфигурацию.
func loadPlatformConfig(cmd *cobra.Command, path string) (*domain.PlatformConfig, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return engine.ParsePlatformConfig(data)
}

// summarizeActions возвращает сводку по action в алфавитном порядке.
// Terminal — номер первого шага с маркером (0 — маркера нет).
func summarizeActions(cfg *domain.PlatformConfig) []actionSummary {
	names := make([]string, 0, len(cfg.Actions))
	for name := range cfg.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]actionSummary, len(names))
	for i, name := range names {
		steps := cfg.Actions[name]
		s := actionSummary{Action: name, Steps: len(steps)}
		for j := range steps {
			if steps[j].IsTerminal() {
				s.Terminal = j + 1
				break
			}
		}
		out[i] = s
	}
	return out
}
