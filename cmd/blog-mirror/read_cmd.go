package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"blog-mirror/annotate"
	"blog-mirror/blogpath"
	"blog-mirror/nav"
	"blog-mirror/tree"

	"github.com/spf13/cobra"
)

func newTreeCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:     "tree [category]",
		Short:   "Print the category tree",
		GroupID: groupBrowse,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := load(cmd.Context(), get())
			if err != nil {
				return err
			}
			root := blogpath.Root
			if len(args) == 1 {
				root = blogpath.Normalize(args[0])
				if !n.Index().HasDir(root) {
					return fmt.Errorf("%s: %w", root, nav.ErrNotFound)
				}
			}
			w := cmd.OutOrStdout()
			st := stylerFor(w)
			fmt.Fprintln(w, st.dir(root))
			printTree(w, st, n.Index(), root, "")
			return nil
		},
	}
}

func printTree(w io.Writer, st styler, idx *tree.Index, dir, indent string) {
	dirs := idx.ChildrenOf(dir, tree.Directory)
	files := idx.ChildrenOf(dir, tree.File)
	for _, d := range dirs {
		fmt.Fprintf(w, "%s  %s\n", indent, st.dir(d+"/"))
		printTree(w, st, idx, blogpath.Join(dir, d), indent+"  ")
	}
	for _, f := range files {
		fmt.Fprintf(w, "%s  %s\n", indent, f)
	}
}

type showOptions struct {
	html  bool
	noNLP bool
	kinds []string
}

func (o *showOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.html, "html", false, "print the rendered HTML instead of the markdown")
	cmd.Flags().BoolVar(&o.noNLP, "no-annotations", false, "skip entity and sentiment annotations")
	cmd.Flags().StringSliceVar(&o.kinds, "kinds", nil, "annotation kinds to compute (default all)")
}

func (o *showOptions) navOptions() ([]nav.Option, error) {
	if o.noNLP {
		return []nav.Option{nav.WithKinds()}, nil
	}
	if len(o.kinds) == 0 {
		return nil, nil
	}
	kinds := make([]annotate.Kind, 0, len(o.kinds))
	for _, s := range o.kinds {
		k, ok := annotate.ParseKind(strings.TrimSpace(s))
		if !ok {
			return nil, fmt.Errorf("unknown annotation kind %q", s)
		}
		kinds = append(kinds, k)
	}
	return []nav.Option{nav.WithKinds(kinds...)}, nil
}

func newShowCmd(get func() *app) *cobra.Command {
	var opts showOptions
	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Show a post with its annotations, or list a category",
		Long: `Show resolves <path> the way a link into the blog does: a path ending in
.md opens that post, "/" opens a random post and anything else lists the
category.`,
		Example: `  blog-mirror show /travel/paris.md
  blog-mirror show /travel --kinds places,people
  blog-mirror show /`,
		GroupID: groupBrowse,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			navOpts, err := opts.navOptions()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			n, err := load(ctx, get(), navOpts...)
			if err != nil {
				return err
			}
			if err := n.GotoPath(ctx, args[0]); err != nil {
				return err
			}
			if n.State().Post == "" {
				printCategory(cmd.OutOrStdout(), n)
				return nil
			}
			return printPost(ctx, cmd.OutOrStdout(), n, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

func newRandomCmd(get func() *app) *cobra.Command {
	var opts showOptions
	cmd := &cobra.Command{
		Use:     "random",
		Short:   "Show a random post",
		GroupID: groupBrowse,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			navOpts, err := opts.navOptions()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			n, err := load(ctx, get(), navOpts...)
			if err != nil {
				return err
			}
			if err := n.GotoRandomPost(ctx); err != nil {
				if errors.Is(err, tree.ErrNoEligiblePost) {
					return errNoPosts
				}
				return err
			}
			return printPost(ctx, cmd.OutOrStdout(), n, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

func newFindCmd(get func() *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "find <pattern>",
		Short:   "Fuzzy-find posts by path",
		GroupID: groupBrowse,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := load(cmd.Context(), get())
			if err != nil {
				return err
			}
			matches := n.Index().Search(args[0], limit)
			if len(matches) == 0 {
				return fmt.Errorf("no post matches %q", args[0])
			}
			for _, p := range matches {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of matches")
	return cmd
}

func newDefineCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:     "define <word>",
		Short:   "Look up the definition of a word",
		GroupID: groupBrowse,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := get().navigator().Define(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("no definition of %q: %w", args[0], err)
			}
			st := stylerFor(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", st.heading(strings.ToLower(args[0])), def)
			return nil
		},
	}
}

// load creates a navigator and fetches the tree.
func load(ctx context.Context, a *app, opts ...nav.Option) (*nav.Navigator, error) {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	n := a.navigator(opts...)
	if err := n.Load(ctx); err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	return n, nil
}

func printCategory(w io.Writer, n *nav.Navigator) {
	st := stylerFor(w)
	s := n.State()
	fmt.Fprintln(w, st.heading(blogpath.Heading(blogpath.Basename(s.Category))))
	if s.Category != blogpath.Root {
		fmt.Fprintf(w, "  %s\n", st.dir("../"))
	}
	for _, c := range n.Categories() {
		fmt.Fprintf(w, "  %s\n", st.dir(c+"/"))
	}
	for _, p := range n.Posts() {
		fmt.Fprintf(w, "  %s\n", p)
	}
}

func printPost(ctx context.Context, w io.Writer, n *nav.Navigator, opts showOptions) error {
	st := stylerFor(w)
	s := n.State()
	path := blogpath.Join(s.Category, s.Post)
	fmt.Fprintln(w, st.heading(path))
	fmt.Fprintln(w)
	if opts.html {
		fmt.Fprintln(w, strings.TrimRight(s.PostBody, "\n"))
	} else {
		fmt.Fprintln(w, strings.TrimRight(n.Raw(), "\n"))
	}
	fmt.Fprintln(w)

	stats := n.Stats()
	fmt.Fprintf(w, "%s %d words, %d sentences, %d min read\n",
		st.label("stats:"), stats.Words, stats.Sentences, stats.MinutesToRead)

	if opts.noNLP {
		return nil
	}
	values, err := n.Annotations(ctx)
	if err != nil {
		return err
	}
	for _, k := range annotate.AllKinds {
		v, ok := values[k]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", st.label(string(k)+":"), formatAnnotation(v))
	}
	return nil
}

func formatAnnotation(v any) string {
	switch v := v.(type) {
	case []string:
		if len(v) == 0 {
			return "-"
		}
		return strings.Join(v, ", ")
	case *float64:
		if v == nil {
			return "unknown"
		}
		return fmt.Sprintf("%.2f (%s)", *v, annotate.SentimentLabel(*v))
	default:
		return fmt.Sprint(v)
	}
}
