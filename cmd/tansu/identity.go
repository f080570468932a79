package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erazemk/tansu/internal/auth"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
)

func newIdentityCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage staff identities",
	}

	var role string
	create := &cobra.Command{
		Use:   "create <tenant-slug> <code> <name>",
		Short: "Create an identity and print its PIN",
		Long: `Create an identity in a tenant. A random 8-digit PIN is generated and
printed once. It cannot be recovered, only reset by an administrator.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug, code, name := args[0], args[1], args[2]
			if !model.ValidRole(role) {
				return fmt.Errorf("invalid role %q", role)
			}

			database, err := c.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx := cmd.Context()
			t, err := store.GetTenantBySlug(ctx, database, slug)
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("tenant %q not found", slug)
			}

			pins := auth.NewPINVerifier(store.Identities{DB: database}, c.cfg.BcryptCost, nil)
			var pin string
			for {
				if pin, err = auth.GeneratePIN(); err != nil {
					return err
				}
				inUse, err := pins.InUse(ctx, t.ID, pin, 0)
				if err != nil {
					return err
				}
				if !inUse {
					break
				}
			}

			hash, err := auth.HashPIN(pin, c.cfg.BcryptCost)
			if err != nil {
				return err
			}
			ident, err := store.CreateIdentity(ctx, database, t.ID, code, name, hash, role)
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("identity %q already exists in %s", code, slug)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Identity created in %s:\n", slug)
			fmt.Fprintf(out, "  Code: %s\n", ident.Code)
			fmt.Fprintf(out, "  Role: %s\n", ident.Role)
			fmt.Fprintf(out, "  PIN:  %s\n", pin)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Save this PIN, it cannot be recovered.")
			return nil
		},
	}
	create.Flags().StringVarP(&role, "role", "r", model.RoleAdmin, "role (admin or worker)")

	cmd.AddCommand(create)
	return cmd
}
