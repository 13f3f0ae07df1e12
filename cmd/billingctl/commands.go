package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errProjectionMismatch = errors.New("ledger projection mismatch")

type opener func() (*services.Container, error)

func newRootCmd(open opener) *cobra.Command {
	var svc *services.Container

	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tooling for the billing ledger and account lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			svc, err = open()
			return err
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run lifecycle sweeps",
	}
	sweep.AddCommand(
		&cobra.Command{
			Use:   "grace",
			Short: "Archive organizations whose grace period has ended",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := svc.Lifecycle.SweepExpiredGracePeriods(cmd.Context())
				if printErr := printJSON(cmd, map[string]interface{}{"sweep": "grace_periods", "transitioned": n}); printErr != nil {
					return printErr
				}
				return err
			},
		},
		&cobra.Command{
			Use:   "trials",
			Short: "Expire trials past their end date",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := svc.Lifecycle.ExpireTrials(cmd.Context())
				if printErr := printJSON(cmd, map[string]interface{}{"sweep": "trials", "transitioned": n}); printErr != nil {
					return printErr
				}
				return err
			},
		},
	)

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay webhook events whose processing failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := svc.Reconciler.Run(cmd.Context())
			if report != nil {
				if printErr := printJSON(cmd, report); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}

	balance := &cobra.Command{
		Use:   "balance <org-id>",
		Short: "Print an organization's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := parseOrgID(args[0])
			if err != nil {
				return err
			}
			bal, err := svc.Ledger.Balance(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"organization_id": orgID, "balance": bal})
		},
	}

	verify := &cobra.Command{
		Use:   "verify <org-id>",
		Short: "Compare the balance counter with the ledger sum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := parseOrgID(args[0])
			if err != nil {
				return err
			}
			check, err := svc.Ledger.VerifyProjection(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, check); err != nil {
				return err
			}
			if !check.Consistent {
				return errProjectionMismatch
			}
			return nil
		},
	}

	root.AddCommand(sweep, reconcile, balance, verify)
	return root
}

func parseOrgID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid organization id %q: %w", raw, err)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
