package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCacheCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		Short:   "Inspect or clear the result cache",
		GroupID: groupServe,
	}
	cmd.AddCommand(newCacheKeysCmd(get), newCacheClearCmd(get))
	return cmd
}

func newCacheKeysCmd(get func() *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List cached keys with their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store := get().store
			keys, err := store.Keys(ctx)
			if err != nil {
				return err
			}
			st := stylerFor(cmd.OutOrStdout())
			for _, k := range keys {
				if !strings.HasPrefix(k, prefix) {
					continue
				}
				e, ok, err := store.Get(ctx, k)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-9s %s\n", st.label(e.Status.String()), k)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list keys starting with this prefix")
	return cmd
}

func newCacheClearCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := get().store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	}
}
