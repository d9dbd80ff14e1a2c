package images

import "github.com/spf13/cobra"

// Actions defines the image operations the CLI exposes.
type Actions interface {
	Pull(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	RM(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
}

// Command builds the pull/list/rm/inspect command set.
func Command(h Actions) []*cobra.Command {
	pull := &cobra.Command{
		Use:   "pull IMAGE[:TAG]",
		Short: "Pull an image from a v1 Docker registry",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Pull,
	}
	pull.Flags().String("local", "", "materialize a writable working copy under this name")
	pull.Flags().Bool("force", false, "overwrite an existing --local working copy")

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List locally pulled images",
		RunE:    h.List,
	}

	rm := &cobra.Command{
		Use:   "rm REF [REF...]",
		Short: "Delete locally pulled image(s) by name:tag or image id",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.RM,
	}

	inspect := &cobra.Command{
		Use:   "inspect REF",
		Short: "Show stored image metadata (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Inspect,
	}

	return []*cobra.Command{pull, list, rm, inspect}
}
