package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"datec-go/internal/app"
	"datec-go/internal/datec"
	"datec-go/internal/model"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Create, review and download datasets",
}

var datasetFlags struct {
	description  string
	tags         []string
	files        []string
	header       string
	video        string
	name         string
	remove       []string
	removeHeader bool
	comment      string
	output       string
	searchLimit  int
	pendingLimit int
}

var datasetCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Upload files as a new dataset",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset create", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		d, err := a.CreateDataset(cmd.Context(), as, app.DatasetRequest{
			Name:        args[0],
			Description: datasetFlags.description,
			Tags:        datasetFlags.tags,
			FilePaths:   datasetFlags.files,
			HeaderPath:  datasetFlags.header,
			VideoURL:    datasetFlags.video,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%d file(s), %s)\n", d.ID, len(d.Files), d.Status)
		return nil
	}),
}

var datasetGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset get", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		d, err := a.Service().Datasets.Get(cmd.Context(), as, args[0])
		if err != nil {
			return err
		}
		printDataset(d)
		return nil
	}),
}

var datasetListCmd = &cobra.Command{
	Use:   "list USERNAME",
	Short: "List a user's datasets",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset list", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ds, err := a.Service().Datasets.ListByOwner(cmd.Context(), as, args[0])
		if err != nil {
			return err
		}
		printDatasets(ds)
		return nil
	}),
}

var datasetSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search public datasets",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp("dataset search", false, func(cmd *cobra.Command, a *app.DatecApp, _ *datec.Identity, args []string) error {
		ds, err := a.Service().Datasets.Search(cmd.Context(), strings.Join(args, " "), datasetFlags.searchLimit)
		if err != nil {
			return err
		}
		printDatasets(ds)
		return nil
	}),
}

var datasetPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List datasets awaiting review (admin)",
	RunE: withApp("dataset pending", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, _ []string) error {
		ds, err := a.Service().Datasets.ListPending(cmd.Context(), as, datasetFlags.pendingLimit)
		if err != nil {
			return err
		}
		printDatasets(ds)
		return nil
	}),
}

var datasetClonesCmd = &cobra.Command{
	Use:   "clones ID",
	Short: "List clones of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset clones", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ds, err := a.Service().Datasets.ListClones(cmd.Context(), as, args[0])
		if err != nil {
			return err
		}
		printDatasets(ds)
		return nil
	}),
}

var datasetUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Edit a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset update", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		flags := cmd.Flags()
		req := app.UpdateRequest{
			RemoveFiles:  datasetFlags.remove,
			AddPaths:     datasetFlags.files,
			HeaderPath:   datasetFlags.header,
			RemoveHeader: datasetFlags.removeHeader,
		}
		if flags.Changed("name") {
			req.Name = &datasetFlags.name
		}
		if flags.Changed("description") {
			req.Description = &datasetFlags.description
		}
		if flags.Changed("tag") {
			req.Tags = &datasetFlags.tags
		}
		if flags.Changed("video") {
			req.VideoURL = &datasetFlags.video
		}

		d, err := a.UpdateDataset(cmd.Context(), as, args[0], req)
		if err != nil {
			return err
		}
		printDataset(d)
		return nil
	}),
}

var datasetCloneCmd = &cobra.Command{
	Use:   "clone ID NEW_NAME",
	Short: "Copy a dataset into your account",
	Args:  cobra.ExactArgs(2),
	RunE: withApp("dataset clone", true, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		d, err := a.Service().Datasets.Clone(cmd.Context(), as, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Cloned %s into %s\n", args[0], d.ID)
		return nil
	}),
}

var datasetDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a dataset from every store",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset delete", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		if err := a.Service().Datasets.Delete(cmd.Context(), as, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	}),
}

var datasetSubmitCmd = &cobra.Command{
	Use:   "submit ID",
	Short: "Request review of a draft or rejected dataset",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset submit", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		d, err := a.Service().Datasets.RequestApproval(cmd.Context(), as, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", d.ID, d.Status)
		return nil
	}),
}

var datasetReviewCmd = &cobra.Command{
	Use:       "review ID approve|reject",
	Short:     "Approve or reject a pending dataset (admin)",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(datec.Approve), string(datec.Reject)},
	RunE: withApp("dataset review", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		d, err := a.Service().Datasets.Review(cmd.Context(), as, args[0], datec.ReviewAction(args[1]), datasetFlags.comment)
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", d.ID, d.Status)
		return nil
	}),
}

var datasetVisibilityCmd = &cobra.Command{
	Use:   "visibility ID public|private",
	Short: "Publish or hide an approved dataset",
	Args:  cobra.ExactArgs(2),
	RunE: withApp("dataset visibility", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		var public bool
		switch args[1] {
		case "public":
			public = true
		case "private":
		default:
			return fmt.Errorf("visibility must be public or private, got %q", args[1])
		}
		d, err := a.Service().Datasets.ToggleVisibility(cmd.Context(), as, args[0], public)
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", d.ID, visibility(d))
		return nil
	}),
}

var datasetDownloadCmd = &cobra.Command{
	Use:   "download ID",
	Short: "Stream a dataset as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset download", true, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		w, done, err := openOutput(datasetFlags.output)
		if err != nil {
			return err
		}
		res, err := a.Service().Datasets.DownloadArchive(cmd.Context(), as, args[0], w)
		if cerr := done(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d file(s)\n", res.Written)
		for _, id := range res.Skipped {
			fmt.Fprintf(os.Stderr, "Skipped missing blob %s\n", id)
		}
		return nil
	}),
}

var datasetFileCmd = &cobra.Command{
	Use:   "file ID INDEX",
	Short: "Download one file of a dataset",
	Args:  cobra.ExactArgs(2),
	RunE: withApp("dataset file", true, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid file index %q", args[1])
		}
		w, done, err := openOutput(datasetFlags.output)
		if err != nil {
			return err
		}
		ref, err := a.Service().Datasets.DownloadFile(cmd.Context(), as, args[0], index, w)
		if cerr := done(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes)\n", ref.Filename, ref.Size)
		return nil
	}),
}

var datasetStatsCmd = &cobra.Command{
	Use:   "stats ID",
	Short: "Show download activity (owner)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp("dataset stats", false, func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error {
		ctx := cmd.Context()
		stats, err := a.Service().Datasets.DownloadStats(ctx, as, args[0])
		if err != nil {
			return err
		}
		votes, err := a.Service().Votes.Summary(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Downloads: %d (%d unique)\n", stats.Total, stats.UniqueDownloaders)
		fmt.Printf("Votes:     %d (average %.2f)\n", votes.Count, votes.Average)
		for _, e := range stats.Recent {
			fmt.Printf("  %s  %s\n", e.DownloadedAt.Format("2006-01-02 15:04:05"), e.UserID)
		}
		return nil
	}),
}

// openOutput returns a writer for path, or stdout for "" and "-". It refuses
// to write binary output to a terminal.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, nil, errors.New("refusing to write binary output to a terminal: use -o FILE or redirect stdout")
		}
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

func visibility(d *model.Dataset) string {
	if d.IsPublic {
		return "public"
	}
	return "private"
}

func printDataset(d *model.Dataset) {
	fmt.Printf("ID:          %s\n", d.ID)
	fmt.Printf("Name:        %s\n", d.Name)
	fmt.Printf("Status:      %s (%s)\n", d.Status, visibility(d))
	fmt.Printf("Description: %s\n", d.Description)
	if len(d.Tags) > 0 {
		fmt.Printf("Tags:        %s\n", strings.Join(d.Tags, ", "))
	}
	if d.ParentID != "" {
		fmt.Printf("Cloned from: %s\n", d.ParentID)
	}
	if d.Video != nil {
		fmt.Printf("Video:       %s (%s)\n", d.Video.URL, d.Video.Platform)
	}
	if d.ReviewComment != "" {
		fmt.Printf("Review:      %s\n", d.ReviewComment)
	}
	fmt.Printf("Downloads:   %d  Votes: %d  Comments: %d\n", d.DownloadCount, d.VoteCount, d.CommentCount)
	for _, f := range d.Files {
		fmt.Printf("  [%d] %-30s %-24s %d\n", f.Index, f.Filename, f.MimeType, f.Size)
	}
}

func printDatasets(ds []*model.Dataset) {
	if len(ds) == 0 {
		fmt.Println("No datasets found.")
		return
	}
	for _, d := range ds {
		fmt.Printf("%-28s  %-30s  %-9s  %-7s  %s\n",
			d.ID, d.Name, d.Status, visibility(d), d.CreatedAt.Format("2006-01-02"))
	}
}

func init() {
	f := datasetCreateCmd.Flags()
	f.StringVarP(&datasetFlags.description, "description", "d", "", "Dataset description")
	f.StringSliceVarP(&datasetFlags.tags, "tag", "t", nil, "Tag (repeatable)")
	f.StringSliceVarP(&datasetFlags.files, "file", "f", nil, "File or directory to upload (repeatable)")
	f.StringVar(&datasetFlags.header, "header", "", "Header image")
	f.StringVar(&datasetFlags.video, "video", "", "Video URL")
	datasetCreateCmd.MarkFlagRequired("file")

	f = datasetUpdateCmd.Flags()
	f.StringVar(&datasetFlags.name, "name", "", "New name")
	f.StringVarP(&datasetFlags.description, "description", "d", "", "New description")
	f.StringSliceVarP(&datasetFlags.tags, "tag", "t", nil, "Replace tags (repeatable)")
	f.StringSliceVarP(&datasetFlags.files, "file", "f", nil, "File or directory to add (repeatable)")
	f.StringSliceVar(&datasetFlags.remove, "remove", nil, "Blob ID to remove (repeatable)")
	f.StringVar(&datasetFlags.header, "header", "", "Replace the header image")
	f.BoolVar(&datasetFlags.removeHeader, "remove-header", false, "Remove the header image")
	f.StringVar(&datasetFlags.video, "video", "", "Video URL (empty clears it)")

	datasetReviewCmd.Flags().StringVarP(&datasetFlags.comment, "comment", "m", "", "Review comment")
	datasetDownloadCmd.Flags().StringVarP(&datasetFlags.output, "output", "o", "", "Output file (default stdout)")
	datasetFileCmd.Flags().StringVarP(&datasetFlags.output, "output", "o", "", "Output file (default stdout)")
	datasetSearchCmd.Flags().IntVarP(&datasetFlags.searchLimit, "limit", "n", 20, "Maximum results")
	datasetPendingCmd.Flags().IntVarP(&datasetFlags.pendingLimit, "limit", "n", 50, "Maximum results")

	datasetCmd.AddCommand(
		datasetCreateCmd,
		datasetGetCmd,
		datasetListCmd,
		datasetSearchCmd,
		datasetPendingCmd,
		datasetClonesCmd,
		datasetUpdateCmd,
		datasetCloneCmd,
		datasetDeleteCmd,
		datasetSubmitCmd,
		datasetReviewCmd,
		datasetVisibilityCmd,
		datasetDownloadCmd,
		datasetFileCmd,
		datasetStatsCmd,
	)
}
