// Package configcmder provides the config command for managing persistent
// engram configuration stored in the .engram/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent engram configuration.

Configuration is stored as config.toml in the .engram/ directory and provides
default values for command flags. Environment variables with the ENGRAM_
prefix and CLI flags take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.backend, storage.sqlite_path, storage.postgres_url,
  api.listen,
  vector_store.provider, vector_store.target,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  classifier.target, classifier.model, classifier.timeout_ms,
  engine.candidate_pool, engine.result_cap, engine.dedup_threshold,
  engine.safety_categories,
  budget.total, budget.order,
  event_stream.provider, event_stream.brokers, event_stream.topic

Use subcommands to get, set, or list configuration values:
  engram config set <key> <value>    Set a configuration value
  engram config get <key>            Get a configuration value
  engram config list                 List all configuration values

Examples:
  engram config set storage.backend sqlite
  engram config set embedding.model nomic-embed-text
  engram config get vector_store.provider
  engram config list`

const configShortDesc string = "Manage persistent engram configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
