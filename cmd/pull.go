package main

import (
	"os"
	"time"

	gosalesforce "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/client-sync/internal/ingest"
	"github.com/sells-group/client-sync/pkg/salesforce"
)

var pullSince time.Duration

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull CRM contacts into the staging table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		client, err := initSalesforce()
		if err != nil {
			return err
		}

		var since time.Time
		if pullSince > 0 {
			since = time.Now().Add(-pullSince)
		}

		staged, err := ingest.PullCRM(ctx, pool, client, since)
		if err != nil {
			return eris.Wrap(err, "pull")
		}

		zap.L().Info("pull complete", zap.Int64("staged", staged))
		return nil
	},
}

// initSalesforce builds the JWT-authenticated Salesforce client from config.
func initSalesforce() (salesforce.Client, error) {
	if cfg.Salesforce.ClientID == "" || cfg.Salesforce.Username == "" || cfg.Salesforce.KeyPath == "" {
		return nil, eris.New("salesforce client_id, username, and key_path are required for pull")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce key")
	}

	sf, err := gosalesforce.Init(gosalesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "salesforce auth")
	}

	return salesforce.NewClient(sf, salesforce.WithRateLimit(5)), nil
}

func init() {
	pullCmd.Flags().DurationVar(&pullSince, "since", 0, "only pull contacts modified in this window (e.g. 24h; default all)")
	rootCmd.AddCommand(pullCmd)
}
