package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
	"github.com/erazemk/tansu/internal/tenant"
)

func newTenantCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var plan string
	create := &cobra.Command{
		Use:   "create <slug> <name>",
		Short: "Create a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug, name := args[0], args[1]
			if !tenant.ValidSlug(slug) {
				return fmt.Errorf("invalid slug %q: use lowercase letters, digits and hyphens", slug)
			}

			database, err := c.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			t, err := store.CreateTenant(cmd.Context(), database, name, slug, plan)
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("tenant %q already exists", slug)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant created: %s (%s)\n", t.Slug, t.ID)
			return nil
		},
	}
	create.Flags().StringVarP(&plan, "plan", "p", "standard", "billing plan")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := c.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			tenants, err := store.ListTenants(cmd.Context(), database)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLUG\tNAME\tSTATUS\tPLAN")
			for _, t := range tenants {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Slug, t.Name, t.Status, t.Plan)
			}
			return w.Flush()
		},
	}

	setStatus := &cobra.Command{
		Use:   "set-status <slug> <active|suspended|cancelled>",
		Short: "Change a tenant's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug, status := args[0], args[1]
			if !model.ValidTenantStatus(status) {
				return fmt.Errorf("invalid status %q", status)
			}

			database, err := c.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			t, err := store.GetTenantBySlug(cmd.Context(), database, slug)
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("tenant %q not found", slug)
			}
			if err := store.SetTenantStatus(cmd.Context(), database, t.ID, status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s is now %s\n", slug, status)
			return nil
		},
	}

	cmd.AddCommand(create, list, setStatus)
	return cmd
}
