package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tracegate/internal/config"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/store"
	"github.com/alfredjeanlab/tracegate/internal/store/postgres"
)

var userCmd = &cobra.Command{
	Use:     "user",
	Short:   "Manage operator accounts",
	GroupID: "admin",
}

// withUserStore opens the configured Postgres store for an admin command.
func withUserStore(fn func(ctx context.Context, st store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return errors.New("user management needs TRACEGATE_STORE=postgres")
	}
	st, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a user (password read from the terminal or stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		password, err := readPassword("Password: ", cmd.InOrStdin())
		if err != nil {
			return err
		}
		return withUserStore(func(ctx context.Context, st store.Store) error {
			if err := createUser(ctx, st, args[0], password, model.Role(role)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %q added (%s)\n", args[0], role)
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withUserStore(func(ctx context.Context, st store.Store) error {
			users, err := st.ListUsers(ctx)
			if err != nil {
				return err
			}
			return printUsers(cmd, users)
		})
	},
}

func printUsers(cmd *cobra.Command, users []*model.User) error {
	if len(users) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no users")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tROLE\tSTATUS\tCREATED")
	for _, u := range users {
		status := "active"
		if u.Disabled {
			status = "disabled"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Name, u.Role, status, u.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a user so they can no longer log in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enable, _ := cmd.Flags().GetBool("enable")
		return withUserStore(func(ctx context.Context, st store.Store) error {
			if err := st.SetUserDisabled(ctx, args[0], !enable); err != nil {
				return err
			}
			state := "disabled"
			if enable {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %q %s\n", args[0], state)
			return nil
		})
	},
}

func init() {
	userAddCmd.Flags().String("role", string(model.RoleOperator), "role: operator, supervisor or admin")
	userDisableCmd.Flags().Bool("enable", false, "re-enable the user instead")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDisableCmd)
}
