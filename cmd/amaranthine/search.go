package main

import (
	"fmt"

	"github.com/spf13/cobra"

	searchpkg "github.com/dshills/amaranthine/internal/search"
	"github.com/dshills/amaranthine/pkg/types"
)

func searchCmd() *cobra.Command {
	var (
		detail string
		limit  int
		topic  string
		tag    string
		since  int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored knowledge with BM25 ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			resp, err := a.engine.Search(searchpkg.Request{
				Query:     args[0],
				Limit:     limit,
				Detail:    types.DetailLevel(detail),
				Topic:     topic,
				Tag:       tag,
				SinceDays: since,
			})
			if err != nil {
				return err
			}
			fmt.Print(searchpkg.Format(resp, args[0], flagPlain))
			return nil
		},
	}
	cmd.Flags().StringVar(&detail, "detail", "medium", "detail level: full|medium|brief|count|topics")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (default from config)")
	cmd.Flags().StringVar(&topic, "topic", "", "restrict to one topic")
	cmd.Flags().StringVar(&tag, "tag", "", "restrict to entries carrying this tag")
	cmd.Flags().IntVar(&since, "since", 0, "only entries captured in the last N days")
	return cmd
}
