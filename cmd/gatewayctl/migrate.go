package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"payment-gateway/internal/app"
	"payment-gateway/internal/config"
	"payment-gateway/internal/db"
	"payment-gateway/internal/dynamo"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations or create the table for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch cfg.Database.Driver {
			case config.DriverPostgres:
				version, err := db.RunMigrations(ctx, cfg.Database.Postgres.ConnString())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "postgres schema at version %d\n", version)
			case config.DriverDynamoDB:
				client, err := dynamo.NewClient(ctx, cfg.Database.DynamoDB.Region, cfg.Database.DynamoDB.Endpoint)
				if err != nil {
					return err
				}
				if err := dynamo.CreateTable(ctx, client, cfg.Database.DynamoDB.Table); err != nil {
					return err
				}
				fmt.Fprintf(out, "dynamodb table %s ready\n", cfg.Database.DynamoDB.Table)
			case config.DriverMemory:
				fmt.Fprintln(out, "memory store has no schema")
			default:
				// embedded stores migrate on open
				_, closeStore, err := app.OpenStore(ctx, cfg.Database, logger(cfg))
				if err != nil {
					return err
				}
				closeStore()
				fmt.Fprintf(out, "%s store ready\n", cfg.Database.Driver)
			}
			return nil
		},
	}
}
