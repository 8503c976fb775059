package main

import (
	"fmt"
	"strconv"
	"strings"

	"datec-go/internal/app"
	"datec-go/internal/datec"
	"datec-go/internal/model"

	"github.com/spf13/cobra"
)

// comment command
var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Discuss datasets",
}

var commentReplyTo string

var commentAddCmd = &cobra.Command{
	Use:   "add DATASET BODY",
	Short: "Post a comment or reply",
	Args:  cobra.ExactArgs(2),
	RunE: withApp("comment add", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		c, err := a.Service().Comments.Add(cmd.Context(), as, args[0], args[1], commentReplyTo)
		if err != nil {
			return err
		}
		fmt.Printf("Posted %s\n", c.ID)
		return nil
	}),
}

var commentListCmd = &cobra.Command{
	Use:   "list DATASET",
	Short: "Show a dataset's discussion",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("comment list", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		roots, err := a.Service().Comments.List(cmd.Context(), as, args[0])
		if err != nil {
			return err
		}
		if len(roots) == 0 {
			fmt.Println("No comments.")
			return nil
		}
		printComments(roots, 0)
		return nil
	}),
}

var commentDisableCmd = &cobra.Command{
	Use:   "disable COMMENT",
	Short: "Hide a comment (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("comment disable", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		if _, err := a.Service().Comments.Disable(cmd.Context(), as, args[0]); err != nil {
			return err
		}
		fmt.Printf("Disabled %s\n", args[0])
		return nil
	}),
}

var commentEnableCmd = &cobra.Command{
	Use:   "enable COMMENT",
	Short: "Restore a hidden comment (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("comment enable", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		if _, err := a.Service().Comments.Enable(cmd.Context(), as, args[0]); err != nil {
			return err
		}
		fmt.Printf("Enabled %s\n", args[0])
		return nil
	}),
}

func printComments(nodes []*model.CommentNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		hidden := ""
		if !n.IsActive {
			hidden = "  [hidden]"
		}
		fmt.Printf("%s%s  %s  %s%s\n", indent, n.CreatedAt.Format("2006-01-02 15:04"), n.AuthorID, n.ID, hidden)
		fmt.Printf("%s  %s\n", indent, n.Body)
		printComments(n.Replies, depth+1)
	}
}

// vote command
var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Rate datasets",
}

var voteCastCmd = &cobra.Command{
	Use:   "cast DATASET RATING",
	Short: "Rate a dataset from 1 to 5",
	Args:  cobra.ExactArgs(2),
	RunE: withApp("vote cast", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		rating, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid rating %q", args[1])
		}
		v, err := a.Service().Votes.AddOrUpdateVote(cmd.Context(), as, args[0], rating)
		if err != nil {
			return err
		}
		fmt.Printf("Rated %s: %d\n", v.DatasetID, v.Rating)
		return nil
	}),
}

var voteRemoveCmd = &cobra.Command{
	Use:   "remove DATASET",
	Short: "Withdraw your rating",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("vote remove", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		if err := a.Service().Votes.RemoveVote(cmd.Context(), as, args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed your vote on %s\n", args[0])
		return nil
	}),
}

var voteShowCmd = &cobra.Command{
	Use:   "show DATASET",
	Short: "Show a dataset's rating",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("vote show", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ctx := cmd.Context()
		sum, err := a.Service().Votes.Summary(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%d vote(s), average %.2f\n", sum.Count, sum.Average)
		if as != nil {
			v, err := a.Service().Votes.UserVote(ctx, as, args[0])
			if err != nil {
				return err
			}
			if v != nil {
				fmt.Printf("Your rating: %d\n", v.Rating)
			}
		}
		return nil
	}),
}

// message command
var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Send direct messages",
}

var messageLimit int

var messageSendCmd = &cobra.Command{
	Use:   "send USERNAME BODY",
	Short: "Message a user",
	Args:  cobra.ExactArgs(2),
	RunE: withApp("message send", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ctx := cmd.Context()
		to, err := a.Service().Users.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		if _, err := a.Service().Messages.Send(ctx, as, to.ID, args[1]); err != nil {
			return err
		}
		fmt.Printf("Sent to %s\n", to.Username)
		return nil
	}),
}

var messageThreadCmd = &cobra.Command{
	Use:   "thread USERNAME",
	Short: "Show your conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("message thread", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ctx := cmd.Context()
		other, err := a.Service().Users.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		msgs, err := a.Service().Messages.Thread(ctx, as, other.ID, messageLimit)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			from := other.Username
			if m.SenderID == as.UserID {
				from = as.Username
			}
			fmt.Printf("%s  %-20s  %s\n", m.CreatedAt.Format("2006-01-02 15:04"), from, m.Body)
		}
		return nil
	}),
}

// notifications command
var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Read your notification queue",
}

var notificationsLimit int

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show notifications, newest first",
	RunE: withApp("notifications list", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, _ []string) error {
		if as == nil {
			return fmt.Errorf("--as is required")
		}
		ns, err := a.Service().Notifications.List(cmd.Context(), as.UserID, notificationsLimit)
		if err != nil {
			return err
		}
		if len(ns) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range ns {
			fmt.Printf("%s  %s\n", n.CreatedAt.Format("2006-01-02 15:04"), describe(n))
		}
		return nil
	}),
}

var notificationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty your notification queue",
	RunE: withApp("notifications clear", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, _ []string) error {
		if as == nil {
			return fmt.Errorf("--as is required")
		}
		if err := a.Service().Notifications.Clear(cmd.Context(), as.UserID); err != nil {
			return err
		}
		fmt.Println("Cleared.")
		return nil
	}),
}

func describe(n model.Notification) string {
	switch p := n.Payload.(type) {
	case model.NewFollower:
		return fmt.Sprintf("%s started following you", p.FromUsername)
	case model.NewDataset:
		return fmt.Sprintf("%s published %s (%s)", p.FromUsername, p.DatasetName, p.DatasetID)
	case model.DatasetReviewed:
		if p.Approved {
			return fmt.Sprintf("%s approved %s", p.ReviewedBy, p.DatasetName)
		}
		msg := fmt.Sprintf("%s rejected %s", p.ReviewedBy, p.DatasetName)
		if p.AdminReview != "" {
			msg += ": " + p.AdminReview
		}
		return msg
	default:
		return string(n.Kind())
	}
}

func init() {
	commentAddCmd.Flags().StringVarP(&commentReplyTo, "reply-to", "r", "", "Parent comment ID")
	commentCmd.AddCommand(commentAddCmd, commentListCmd, commentDisableCmd, commentEnableCmd)

	voteCmd.AddCommand(voteCastCmd, voteRemoveCmd, voteShowCmd)

	messageThreadCmd.Flags().IntVarP(&messageLimit, "limit", "n", 100, "Maximum messages")
	messageCmd.AddCommand(messageSendCmd, messageThreadCmd)

	notificationsListCmd.Flags().IntVarP(&notificationsLimit, "limit", "n", 50, "Maximum notifications")
	notificationsCmd.AddCommand(notificationsListCmd, notificationsClearCmd)
}
