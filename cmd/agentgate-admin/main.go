// agentgate-admin is the operator CLI for Firebase user administration:
// creating users with the custom claims the UI expects, inspecting and
// deleting accounts, and sweeping the project for unauthorized signups.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentgate-dev/agentgate/internal/config"
	"github.com/agentgate-dev/agentgate/internal/firebaseauth"
)

var (
	flagConfig  string
	flagProject string
)

func main() {
	root := &cobra.Command{
		Use:           "agentgate-admin",
		Short:         "Administer Firebase users for the agent UI",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", os.Getenv("CONFIG_FILE"), "configuration file")
	root.PersistentFlags().StringVar(&flagProject, "project", "", "GCP project id (overrides config)")

	root.AddCommand(
		newUserCmd(),
		newValidateAllCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newService wires the Firebase service from config plus flag overrides.
func newService(ctx context.Context) (*firebaseauth.Service, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagProject != "" {
		cfg.Vertex.Project = flagProject
	}
	if cfg.Vertex.Project == "" {
		return nil, &config.ConfigurationError{Capability: "user administration", Missing: "project id"}
	}

	client, err := firebaseauth.NewClient(ctx, cfg.Vertex.Project)
	if err != nil {
		return nil, err
	}
	return firebaseauth.NewService(client, firebaseauth.Policy{
		Production:     cfg.IsProduction(),
		AllowedDomains: cfg.Security.AllowedDomains,
	}), nil
}

func newValidateAllCmd() *cobra.Command {
	var deleteUnauthorized bool

	cmd := &cobra.Command{
		Use:   "validate-all",
		Short: "Report every user's standing against the signup policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(cmd.Context())
			if err != nil {
				return err
			}

			report, err := svc.ValidateAll(cmd.Context(), deleteUnauthorized)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d authorized, %d non-Google, %d unauthorized\n",
				len(report.Authorized), len(report.NonGoogle), len(report.Unauthorized))
			for _, d := range report.Unauthorized {
				verb := "unauthorized"
				if deleteUnauthorized {
					verb = "deleted"
				}
				fmt.Fprintf(out, "%s %s (%s): %s\n", verb, d.UID, d.Email, d.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleteUnauthorized, "delete", false, "delete unauthorized users instead of only reporting them")
	return cmd
}
