package main

import (
	"fmt"
	"strings"

	"datec-go/internal/app"
	"datec-go/internal/datec"
	"datec-go/internal/model"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts and follows",
}

var userFlags struct {
	email       string
	fullName    string
	bio         string
	searchLimit int
	listLimit   int
}

var userRegisterCmd = &cobra.Command{
	Use:   "register USERNAME",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user register", false, func(cmd *cobra.Command, a *app.DatecApp, _ *datec.Identity, args []string) error {
		u, err := a.Service().Users.Register(cmd.Context(), datec.RegisterInput{
			Username: args[0],
			Email:    userFlags.email,
			FullName: userFlags.fullName,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s (%s)\n", u.Username, u.ID)
		return nil
	}),
}

var userShowCmd = &cobra.Command{
	Use:   "show USERNAME",
	Short: "Show a profile",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user show", false, func(cmd *cobra.Command, a *app.DatecApp, _ *datec.Identity, args []string) error {
		u, err := a.Service().Users.GetByUsername(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\n", u.ID)
		fmt.Printf("Username: %s\n", u.Username)
		fmt.Printf("Name:     %s\n", u.FullName)
		fmt.Printf("Bio:      %s\n", u.Bio)
		fmt.Printf("Admin:    %v\n", u.IsAdmin)
		fmt.Printf("Joined:   %s\n", u.CreatedAt.Format("2006-01-02"))
		return nil
	}),
}

var userSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Find users by username or name",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp("user search", false, func(cmd *cobra.Command, a *app.DatecApp, _ *datec.Identity, args []string) error {
		us, err := a.Service().Users.Search(cmd.Context(), strings.Join(args, " "), userFlags.searchLimit)
		if err != nil {
			return err
		}
		printUsers(us)
		return nil
	}),
}

var userUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Edit your profile",
	RunE: withApp("user update", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, _ []string) error {
		flags := cmd.Flags()
		var in datec.ProfileInput
		if flags.Changed("email") {
			in.Email = &userFlags.email
		}
		if flags.Changed("name") {
			in.FullName = &userFlags.fullName
		}
		if flags.Changed("bio") {
			in.Bio = &userFlags.bio
		}
		u, err := a.Service().Users.UpdateProfile(cmd.Context(), as, in)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %s\n", u.Username)
		return nil
	}),
}

var userAvatarCmd = &cobra.Command{
	Use:   "avatar IMAGE",
	Short: "Set your avatar",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user avatar", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		u, err := a.SetAvatar(cmd.Context(), as, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Avatar stored as %s\n", u.AvatarBlobID)
		return nil
	}),
}

var userToggleAdminCmd = &cobra.Command{
	Use:   "toggle-admin USERNAME",
	Short: "Grant or revoke admin rights (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user toggle-admin", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ctx := cmd.Context()
		target, err := a.Service().Users.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		u, err := a.Service().Users.ToggleAdmin(ctx, as, target.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s admin: %v\n", u.Username, u.IsAdmin)
		return nil
	}),
}

var userGrantAdminCmd = &cobra.Command{
	Use:   "grant-admin USERNAME",
	Short: "Make a user admin without an acting admin (operator)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user grant-admin", false, func(cmd *cobra.Command, a *app.DatecApp, _ *datec.Identity, args []string) error {
		u, err := a.GrantAdmin(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s is now an admin\n", u.Username)
		return nil
	}),
}

var userFollowCmd = &cobra.Command{
	Use:   "follow USERNAME",
	Short: "Follow a user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user follow", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ctx := cmd.Context()
		target, err := a.Service().Users.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		if err := a.Service().Users.Follow(ctx, as, target.ID); err != nil {
			return err
		}
		fmt.Printf("Following %s\n", target.Username)
		return nil
	}),
}

var userUnfollowCmd = &cobra.Command{
	Use:   "unfollow USERNAME",
	Short: "Stop following a user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user unfollow", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ctx := cmd.Context()
		target, err := a.Service().Users.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		if err := a.Service().Users.Unfollow(ctx, as, target.ID); err != nil {
			return err
		}
		fmt.Printf("No longer following %s\n", target.Username)
		return nil
	}),
}

var userFollowersCmd = &cobra.Command{
	Use:   "followers USERNAME",
	Short: "List a user's followers",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user followers", false, func(cmd *cobra.Command, a *app.DatecApp, _ *datec.Identity, args []string) error {
		ctx := cmd.Context()
		u, err := a.Service().Users.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		us, err := a.Service().Users.Followers(ctx, u.ID, userFlags.listLimit)
		if err != nil {
			return err
		}
		printUsers(us)
		return nil
	}),
}

var userFollowingCmd = &cobra.Command{
	Use:   "following USERNAME",
	Short: "List who a user follows",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("user following", false, func(cmd *cobra.Command, a *app.DatecApp, _ *datec.Identity, args []string) error {
		ctx := cmd.Context()
		u, err := a.Service().Users.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		us, err := a.Service().Users.Following(ctx, u.ID, userFlags.listLimit)
		if err != nil {
			return err
		}
		printUsers(us)
		return nil
	}),
}

func printUsers(us []*model.User) {
	if len(us) == 0 {
		fmt.Println("No users found.")
		return
	}
	for _, u := range us {
		fmt.Printf("%-30s  %s\n", u.Username, u.FullName)
	}
}

func init() {
	userRegisterCmd.Flags().StringVarP(&userFlags.email, "email", "e", "", "Email address")
	userRegisterCmd.Flags().StringVar(&userFlags.fullName, "name", "", "Full name")
	userRegisterCmd.MarkFlagRequired("email")

	userUpdateCmd.Flags().StringVarP(&userFlags.email, "email", "e", "", "New email address")
	userUpdateCmd.Flags().StringVar(&userFlags.fullName, "name", "", "New full name")
	userUpdateCmd.Flags().StringVar(&userFlags.bio, "bio", "", "New bio")

	userSearchCmd.Flags().IntVarP(&userFlags.searchLimit, "limit", "n", 20, "Maximum results")
	userFollowersCmd.Flags().IntVarP(&userFlags.listLimit, "limit", "n", 100, "Maximum results")
	userFollowingCmd.Flags().IntVarP(&userFlags.listLimit, "limit", "n", 100, "Maximum results")

	userCmd.AddCommand(
		userRegisterCmd,
		userShowCmd,
		userSearchCmd,
		userUpdateCmd,
		userAvatarCmd,
		userToggleAdminCmd,
		userGrantAdminCmd,
		userFollowCmd,
		userUnfollowCmd,
		userFollowersCmd,
		userFollowingCmd,
	)
}
