package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ridesync/config"
)

const redacted = "***"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print it with defaults applied",
	RunE:  runConfigCheck,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out, err := json.MarshalIndent(redact(*cfg), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func redact(c config.Config) config.Config {
	for _, s := range []*string{
		&c.Identity.AccessToken,
		&c.Identity.ClientSecret,
		&c.Transport.MQTT.Password,
		&c.Status.Token,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	return c
}
