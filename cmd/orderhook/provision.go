package main

import (
	"fmt"

	"github.com/cimillas/orderhook/internal/app"
	"github.com/cimillas/orderhook/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func provisionCmd() *cobra.Command {
	var dbID, collectionID string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the orders database, collection, attributes and index if missing",
		Long: `Provision is safe to run any number of times. Resources that already
exist are left alone; the first failing step aborts the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if dbID == "" {
				dbID = cfg.OrdersDatabaseID
			}
			if collectionID == "" {
				collectionID = cfg.OrdersCollectionID
			}

			provisioner := app.NewProvisioner(postgres.NewDocumentStore(pool),
				app.WithStepTimeout(cfg.StorageTimeout),
				app.WithProvisionLogger(logger))
			if err := provisioner.EnsureNamespace(ctx, dbID, collectionID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "namespace %s/%s is ready\n", dbID, collectionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbID, "database", "", "database id (defaults to ORDERS_DATABASE_ID)")
	cmd.Flags().StringVar(&collectionID, "collection", "", "collection id (defaults to ORDERS_COLLECTION_ID)")
	return cmd
}
