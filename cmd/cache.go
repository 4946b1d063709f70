package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/segmenta/prospect-cli/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the registry response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count and age range",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.cache.Stats(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <cnpj>",
	Short: "Drop the cached registry payload for a CNPJ",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cnpj := model.NormalizeCNPJ(args[0])
		if cnpj == "" {
			return eris.Errorf("invalid CNPJ %q", args[0])
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.cache.Invalidate(ctx, cnpj); err != nil {
			return err
		}
		fmt.Println("invalidated", cnpj)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
