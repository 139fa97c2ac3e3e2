package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jrsteele09/go-auth-gateway/api"
	interrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/internal/utils"
	"github.com/jrsteele09/go-auth-gateway/users"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (a *app) loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.client.Login(cmd.Context(), username, password)
			if errors.Is(err, interrors.ErrProfileUnavailable) {
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, profile unavailable\n", username)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", user.Username, strings.Join(user.Roles, ", "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var req api.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Register(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s, run login to sign in\n", req.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "contact address")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (a *app) whoamiCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.client.Store().Session(cmd.Context())
			if err != nil {
				return err
			}
			if !sess.Authenticated {
				return interrors.ErrNotAuthenticated
			}

			var user *users.UserInfo
			if !remote {
				if user, err = a.client.CachedUser(cmd.Context()); err != nil {
					return err
				}
			}
			if user == nil {
				if user, err = a.client.GetCurrentUser(cmd.Context()); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\t%d\n", user.ID)
			fmt.Fprintf(w, "Username\t%s\n", user.Username)
			fmt.Fprintf(w, "Email\t%s\n", user.Email)
			if user.Nickname != "" {
				fmt.Fprintf(w, "Nickname\t%s\n", user.Nickname)
			}
			fmt.Fprintf(w, "Roles\t%s\n", strings.Join(user.Roles, ", "))
			fmt.Fprintf(w, "Admin\t%t\n", user.IsAdmin())
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "fetch the profile from the server instead of the cache")
	return cmd
}

func (a *app) profileCmd() *cobra.Command {
	var email, nickname, avatar string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the signed-in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			var update users.UserUpdate
			if cmd.Flags().Changed("email") {
				update.Email = utils.Ptr(email)
			}
			if cmd.Flags().Changed("nickname") {
				update.Nickname = utils.Ptr(nickname)
			}
			if cmd.Flags().Changed("avatar") {
				update.Avatar = utils.Ptr(avatar)
			}
			if update == (users.UserUpdate{}) {
				return errors.New("nothing to update, set --email, --nickname or --avatar")
			}

			user, err := a.client.UpdateUser(cmd.Context(), update)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (%s)\n", user.Username, utils.FirstNonEmpty(user.Nickname, user.Email))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "new contact address")
	cmd.Flags().StringVarP(&nickname, "nickname", "n", "", "new display name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "new avatar URL")
	return cmd
}

func (a *app) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.client.Refresh(cmd.Context()); err != nil {
				return err
			}
			tok, err := a.client.Store().Token()
			if err != nil {
				return err
			}
			if tok.Expiry.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "Token refreshed")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed, expires %s\n", tok.Expiry.Local().Format("15:04:05"))
			return nil
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (a *app) categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List solution categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			categories, err := a.client.ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, c := range categories {
				fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Name)
			}
			return w.Flush()
		},
	}
}

func (a *app) pendingSolutionsCmd() *cobra.Command {
	var page api.PageRequest
	cmd := &cobra.Command{
		Use:   "pending-solutions",
		Short: "List solutions awaiting review (developers only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.client.PendingSolutions(cmd.Context(), page)
			if err != nil {
				return err
			}
			if result.Empty || len(result.Content) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No solutions awaiting review")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tAUTHOR")
			for _, s := range result.Content {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Title, s.CreatedByUsername)
			}
			fmt.Fprintf(w, "\npage %d of %d\n", result.Number+1, result.TotalPages)
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&page.Page, "page", 0, "zero-based page number")
	cmd.Flags().IntVar(&page.Size, "size", 20, "page size")
	return cmd
}
