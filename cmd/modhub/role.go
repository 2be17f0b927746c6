package main

import (
	"github.com/spf13/cobra"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/services"
)

var revokeAdmin bool

var grantAdminCmd = &cobra.Command{
	Use:   "grant-admin <username>",
	Short: "Give a user the admin role (or take it away with --revoke)",
	Long: `Admins review submitted mods. The role is read from the session token,
so the user has to log in again for the change to apply.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer closeDB(db)

		role := domain.RoleAdmin
		if revokeAdmin {
			role = domain.RoleUser
		}
		u, err := services.NewUserService(db, log).SetRole(cmd.Context(), args[0], role)
		if err != nil {
			return err
		}
		log.Info().Uint("user_id", u.ID).Str("username", u.Username).Str("role", u.Role).Msg("role updated")
		return nil
	},
}

func init() {
	grantAdminCmd.Flags().BoolVar(&revokeAdmin, "revoke", false, "demote the user back to a regular account")
	rootCmd.AddCommand(grantAdminCmd)
}
