package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/scan2csv/internal/llm/provider"
)

var columnsFlags pipelineFlags

var columnsCmd = &cobra.Command{
	Use:   "columns FILE",
	Short: "Print the person-name columns a document's table uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(columnsFlags.overrides(cmd), true)
		if err != nil {
			return err
		}
		models := provider.NewRegistry(cfg, logger)
		defer func() { _ = models.Close() }()

		adapter, err := newOCR(cmd.Context(), cfg, models, logger)
		if err != nil {
			return err
		}
		cols, err := adapter.ExtractNameColumns(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if cols == nil {
			cols = []string{}
		}
		enc := json.NewEncoder(os.Stdout)
		if err := enc.Encode(cols); err != nil {
			return fmt.Errorf("print columns: %w", err)
		}
		return nil
	},
}

func init() {
	columnsFlags.register(columnsCmd)
	rootCmd.AddCommand(columnsCmd)
}
