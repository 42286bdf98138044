package main

import (
	"fmt"

	"github.com/spf13/cobra"

	storepkg "github.com/dshills/amaranthine/internal/store"
)

func deleteCmd() *cobra.Command {
	var (
		last  bool
		match string
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "delete <topic>",
		Short: "Tombstone entries of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sel := storepkg.Selector{Topic: args[0], Last: last, Match: match, All: all, Index: -1}
			if !last && !all && match == "" {
				sel.Last = true
			}
			n, err := a.coord.Delete(sel)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d from %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "delete the most recent entry")
	cmd.Flags().StringVar(&match, "match", "", "delete entries whose body contains this text")
	cmd.Flags().BoolVar(&all, "all", false, "delete every entry of the topic")
	return cmd
}

func updateCmd() *cobra.Command {
	var (
		last  bool
		match string
		index int
	)
	cmd := &cobra.Command{
		Use:   "update <topic> <text>",
		Short: "Replace one entry (new version + tombstone)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sel := storepkg.Selector{Topic: args[0], Last: last, Match: match, Index: index}
			if !last && match == "" && index < 0 {
				sel.Last = true
			}
			res, err := a.coord.Update(sel, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("updated %s @%d\n", res.Topic, res.Offset)
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "select the most recent entry")
	cmd.Flags().StringVar(&match, "match", "", "select the entry whose body contains this text")
	cmd.Flags().IntVar(&index, "index", -1, "select the nth (0-based) entry of the topic")
	return cmd
}

func renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-topic> <new-topic>",
		Short: "Move every live entry of a topic to a new name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			n, err := a.coord.RenameTopic(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("renamed %d entries: %s → %s\n", n, args[0], args[1])
			return nil
		},
	}
}
