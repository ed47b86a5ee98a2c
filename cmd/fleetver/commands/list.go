package commands

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/spf13/cobra"
)

func newListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <tool>",
		Short: "List the tags published for a tool in the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repository := args[0]
			if root.cfg.Namespace != "" && !strings.Contains(repository, "/") {
				repository = root.cfg.Namespace + "/" + repository
			}

			repo, err := name.NewRepository(repository)
			if err != nil {
				return fmt.Errorf("invalid repository %q: %w", repository, err)
			}

			tags, err := root.newRegistryClient().ListTags(cmd.Context(), repo)
			if err != nil {
				return err
			}

			for _, tag := range tags {
				fmt.Fprintln(cmd.OutOrStdout(), tag)
			}
			return nil
		},
	}
}
