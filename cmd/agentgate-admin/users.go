package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/agentgate-dev/agentgate/internal/firebaseauth"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(
		newUserCreateCmd(),
		newUserGetCmd(),
		newUserDeleteCmd(),
		newUserSetClaimsCmd(),
		newUserListCmd(),
	)
	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(cmd.Context())
			if err != nil {
				return err
			}
			users, err := svc.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", u.UID, u.Email, strings.Join(providerIDs(u), ","))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d user(s)\n", len(users))
			return nil
		},
	}
}

func newUserCreateCmd() *cobra.Command {
	var params firebaseauth.CreateUserParams
	var customers string
	var interactive bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an email/password user with UI claims",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interactive {
				if err := promptUserParams(&params, &customers); err != nil {
					return err
				}
			}
			if customers != "" {
				params.Customers = splitTrim(customers)
			}

			svc, err := newService(cmd.Context())
			if err != nil {
				return err
			}
			user, err := svc.CreateUser(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", user.UID, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.Email, "email", "", "user email")
	cmd.Flags().StringVar(&params.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&params.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&params.Phone, "phone", "", "phone number in E.164 form")
	cmd.Flags().StringVar(&params.Role, "role", "", "role claim")
	cmd.Flags().StringVar(&params.Nickname, "nickname", "", "nickname claim")
	cmd.Flags().StringVar(&customers, "customers", "", "comma-separated customers claim")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for the fields")
	return cmd
}

// promptUserParams collects the creation fields interactively. Values
// already supplied by flags are kept as prompt defaults.
func promptUserParams(params *firebaseauth.CreateUserParams, customers *string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	prompt := func(label, current string) (string, error) {
		if current != "" {
			label = fmt.Sprintf("%s [%s]", label, current)
		}
		v, err := line.Prompt(label + ": ")
		if err != nil {
			return "", err
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
		return current, nil
	}

	var err error
	if params.Email, err = prompt("email", params.Email); err != nil {
		return err
	}
	if params.Password == "" {
		if params.Password, err = line.PasswordPrompt("password: "); err != nil {
			return err
		}
	}
	if params.DisplayName, err = prompt("display name", params.DisplayName); err != nil {
		return err
	}
	if params.Phone, err = prompt("phone (E.164, empty to skip)", params.Phone); err != nil {
		return err
	}
	if params.Role, err = prompt("role", params.Role); err != nil {
		return err
	}
	if params.Nickname, err = prompt("nickname", params.Nickname); err != nil {
		return err
	}
	if *customers, err = prompt("customers (comma-separated)", *customers); err != nil {
		return err
	}
	return nil
}

func newUserGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <uid-or-email>",
		Short: "Show a user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd.Context())
			if err != nil {
				return err
			}
			user, err := svc.LookupUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(map[string]any{
				"uid":          user.UID,
				"email":        user.Email,
				"display_name": user.DisplayName,
				"phone":        user.PhoneNumber,
				"disabled":     user.Disabled,
				"providers":    providerIDs(user),
				"claims":       user.CustomClaims,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newUserDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uid-or-email>",
		Short: "Delete a user (refused in production)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd.Context())
			if err != nil {
				return err
			}
			user, err := svc.LookupUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := svc.DeleteUser(cmd.Context(), user.UID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", user.UID, user.Email)
			return nil
		},
	}
}

func newUserSetClaimsCmd() *cobra.Command {
	var role, nickname, customers string

	cmd := &cobra.Command{
		Use:   "set-claims <uid-or-email>",
		Short: "Replace a user's custom claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd.Context())
			if err != nil {
				return err
			}
			user, err := svc.LookupUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			claims := map[string]interface{}{}
			if role != "" {
				claims["role"] = role
			}
			if nickname != "" {
				claims["nickname"] = nickname
			}
			if customers != "" {
				claims["customers"] = splitTrim(customers)
			}
			if len(claims) == 0 {
				return fmt.Errorf("no claims supplied")
			}

			if err := svc.SetClaims(cmd.Context(), user.UID, claims); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claims updated for %s\n", user.UID)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "role claim")
	cmd.Flags().StringVar(&nickname, "nickname", "", "nickname claim")
	cmd.Flags().StringVar(&customers, "customers", "", "comma-separated customers claim")
	return cmd
}

func providerIDs(user *auth.UserRecord) []string {
	ids := make([]string, 0, len(user.ProviderUserInfo))
	for _, info := range user.ProviderUserInfo {
		if info != nil {
			ids = append(ids, info.ProviderID)
		}
	}
	return ids
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
