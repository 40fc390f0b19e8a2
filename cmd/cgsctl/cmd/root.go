// Package cmd implements cgsctl, the operator CLI for the content engine.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	serverURL  string
	token      string
	verbose    bool
	appVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "cgsctl",
	Short: "Operate the content generation engine",
	Long: `cgsctl executes runs against a running engine, validates agent pack
definitions before they are stored and prices LLM calls with the engine's
pricing table.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8081",
		"engine base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "",
		"bearer token (default: $CGS_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"log diagnostics to stderr")

	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.SetEnvPrefix("CGS")
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd, validatePackCmd, priceCmd, tokenCmd)
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
