package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pthm/hxstream"
	"github.com/pthm/hxstream/lib/treefile"
)

func newRenderCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Render a tree file to stdout",
		Long: `Render streams the tree in FILE to stdout, writing each chunk as soon as
it is ready. With --wait the whole document is written at once, with every
boundary inlined. Use - to read the tree from stdin.`,
		Example: `  hxstream render page.yaml
  hxstream render --wait --timeout 2s page.yaml > page.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(v, cmd)
			if err != nil {
				return err
			}
			tree, err := loadTree(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if d := v.GetDuration("timeout"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			opts := renderOptions(v, logger)
			if v.GetBool("wait") {
				return hxstream.Render(ctx, cmd.OutOrStdout(), tree.Build(), opts...)
			}
			return hxstream.Stream(ctx, cmd.OutOrStdout(), tree.Build(), opts...)
		},
	}
	addRenderFlags(cmd)
	cmd.Flags().Bool("wait", false, "wait for every boundary and write one document")
	cmd.Flags().Duration("timeout", 0, "hand boundaries still pending after this long to the client")
	return cmd
}

func loadTree(path string) (*treefile.Node, error) {
	if path == "-" {
		return treefile.Decode(os.Stdin)
	}
	return treefile.Load(path)
}
