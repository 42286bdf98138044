package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	storepkg "github.com/dshills/amaranthine/internal/store"
	"github.com/dshills/amaranthine/internal/text"
	"github.com/dshills/amaranthine/pkg/types"
)

func storeCmd() *cobra.Command {
	var (
		tags       string
		source     string
		confidence float64
		links      string
	)
	cmd := &cobra.Command{
		Use:   "store <topic> <text>",
		Short: "Store a knowledge entry under a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			opts := storepkg.Options{}
			if tags != "" {
				opts.Tags = strings.Split(tags, ",")
			}
			if source != "" {
				ref := parseSource(source)
				opts.Source = &ref
			}
			if cmd.Flags().Changed("confidence") {
				opts.Confidence = &confidence
			}
			if links != "" {
				opts.Links = parseLinks(links)
			}
			res, err := a.coord.Store(args[0], args[1], opts)
			if err != nil {
				return err
			}
			fmt.Printf("stored in %s @%d\n", res.Topic, res.Offset)
			if res.Duplicate {
				fmt.Printf("warning: near-duplicate of a recent %s entry (similarity %.2f)\n",
					res.Topic, res.Similarity)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	cmd.Flags().StringVar(&source, "source", "", "source reference (path or path:line)")
	cmd.Flags().Float64Var(&confidence, "confidence", 1.0, "confidence in [0,1]")
	cmd.Flags().StringVar(&links, "links", "", "comma-separated narrative links (topic:index)")
	return cmd
}

func getCmd() *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "get <topic>",
		Short: "Print the nth live entry of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			e, err := a.engine.GetEntry(args[0], index)
			if err != nil {
				return err
			}
			fmt.Printf("## %s — %s\n%s\n", e.Topic, e.Time().Local().Format("2006-01-02 15:04"), e.Body)
			return nil
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "0-based entry index within the topic")
	return cmd
}

func parseSource(src string) types.SourceRef {
	if i := strings.LastIndexByte(src, ':'); i > 0 {
		var line int
		if _, err := fmt.Sscanf(src[i+1:], "%d", &line); err == nil && line > 0 {
			return types.SourceRef{Path: src[:i], Line: line}
		}
	}
	return types.SourceRef{Path: src}
}

func parseLinks(raw string) []types.Link {
	m := text.ParseMetadata("[links: " + strings.ReplaceAll(raw, ",", " ") + "]\nx")
	return m.Links
}
