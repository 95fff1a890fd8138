// Omnipost CLI — офлайн-инструменты оператора: проверка конфигураций
// платформ, шифрование credentials и просмотр расписания шагов.
//
// Использование:
//
//	omnipost [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	platform  Проверка конфигураций платформ
//	vault     Шифрование credentials
//	action    Расписание шагов action
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/omnipost/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "omnipost",
		Short:         "Omnipost CLI — multi-platform publishing tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewPlatformCmd(outputFn),
		cli.NewVaultCmd(outputFn),
		cli.NewActionCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
