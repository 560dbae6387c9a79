package cli

import (
	"fmt"
	"os"

	"github.com/haolipeng/trident_firewall/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd 创建 trident 命令及全部子命令
func NewRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "trident",
		Short: "Rule-based packet filter",
		Long: `trident: rule-based packet filter.

Decides ALLOWED or DENIED for packet descriptions using ordered ALLOW/DENY rules.
DENY rules always win over ALLOW rules; packets matching no rule are denied.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// serve 使用配置文件中的日志级别，在 InitLogger 中覆盖
			logrus.SetLevel(logging.ParseLevel(logLevel))
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "Log level: DEBUG, INFO, WARN or ERROR")

	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
