package main

import (
	"fmt"

	"github.com/spf13/cobra"

	exportpkg "github.com/dshills/amaranthine/internal/export"
)

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List every topic with its live entry count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			topics, err := a.engine.Topics()
			if err != nil {
				return err
			}
			total := 0
			for _, t := range topics {
				fmt.Printf("%-32s %d\n", t.Name, t.Entries)
				total += t.Entries
			}
			fmt.Printf("%d topic(s), %d entries\n", len(topics), total)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Corpus statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			st, err := a.engine.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("entries: %d\n", st.Entries)
			fmt.Printf("topics:  %d\n", st.Topics)
			fmt.Printf("log:     %d bytes\n", st.LogBytes)
			fmt.Printf("index:   %d bytes (fresh: %v)\n", st.IndexBytes, st.IndexFresh)
			fmt.Printf("cache:   resident=%v\n", st.Cached)
			return nil
		},
	}
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the data log without tombstoned entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			stats, err := a.coord.Compact()
			if err != nil {
				return err
			}
			fmt.Printf("compacted: %d entries, %d → %d bytes\n",
				stats.Entries, stats.BytesBefore, stats.BytesAfter)
			return nil
		},
	}
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Force a full index rebuild from the data log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.coord.RebuildIndex(); err != nil {
				return err
			}
			st, err := a.engine.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("index rebuilt: %d entries, %d topics, %d bytes\n",
				st.Entries, st.Topics, st.IndexBytes)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write a compressed backup archive of all live entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			n, err := exportpkg.ExportFile(a.cache, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("exported %d entries to %s\n", n, args[0])
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Append entries from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			n, err := exportpkg.ImportFile(a.coord, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("imported %d entries\n", n)
			return nil
		},
	}
}
