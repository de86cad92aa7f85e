package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astromechza/talking-todos/pkg/todos"
)

func newListsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Show every list with its progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			lists := a.svc.Lists()
			if len(lists) == 0 {
				_, _ = fmt.Fprintln(out, "no lists yet")
				return nil
			}
			for _, l := range lists {
				done, total, err := a.svc.Progress(l.ID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "%s  %s%s  (%d/%d)\n", l.ID, emojiPrefix(l.Emoji), l.Name, done, total)
			}
			return nil
		},
	}
}

func emojiPrefix(e string) string {
	if e == "" {
		return ""
	}
	return e + " "
}

func newNewListCmd(a *app) *cobra.Command {
	var l todos.List
	var template string
	cmd := &cobra.Command{
		Use:   "new-list NAME",
		Short: "Create a list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l.Name = strings.Join(args, " ")
			l.Template = todos.Template(template)
			created, err := a.svc.CreateList(l)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s %s\n", created.ID, created.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&l.Purpose, "purpose", "", "what the list is for")
	cmd.Flags().StringVar(&template, "template", string(todos.DefaultTemplate), "list template, see the templates command")
	cmd.Flags().StringVar(&l.BackgroundColor, "color", "", "background color")
	cmd.Flags().StringVar(&l.Emoji, "emoji", "", "list emoji")
	cmd.Flags().StringSliceVar(&l.SharedWith, "share", nil, "email addresses to share with")
	return cmd
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename LIST NAME",
		Short: "Rename a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.resolveList(args[0])
			if err != nil {
				return err
			}
			if _, err := a.svc.RenameList(l.ID, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			return nil
		},
	}
}

func newShareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "share LIST EMAIL...",
		Short: "Share a list with other people",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.resolveList(args[0])
			if err != nil {
				return err
			}
			l, err = a.svc.ShareList(l.ID, args[1:]...)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is shared with %s\n", l.Name, strings.Join(l.SharedWith, ", "))
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show LIST",
		Short: "Show the todos of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.resolveList(args[0])
			if err != nil {
				return err
			}
			items, err := a.svc.Todos(l.ID)
			if err != nil {
				return err
			}
			printList(cmd.OutOrStdout(), l, items)
			return nil
		},
	}
}

func printList(out io.Writer, l todos.List, items []todos.Todo) {
	_, _ = fmt.Fprintf(out, "%s%s [%s]\n", emojiPrefix(l.Emoji), l.Name, l.Template)
	if l.Purpose != "" {
		_, _ = fmt.Fprintf(out, "  %s\n", l.Purpose)
	}
	for _, t := range items {
		mark := " "
		if t.Done {
			mark = "x"
		}
		var extra []string
		if t.Category != "" {
			extra = append(extra, t.Category)
		}
		if t.Date != "" {
			extra = append(extra, t.Date)
		}
		if t.Number != 0 {
			extra = append(extra, fmt.Sprintf("%g", t.Number))
		}
		line := fmt.Sprintf("  [%s] %s%s", mark, emojiPrefix(t.Emoji), t.Text)
		if len(extra) > 0 {
			line += " (" + strings.Join(extra, ", ") + ")"
		}
		_, _ = fmt.Fprintf(out, "%s  %s\n", line, t.ID)
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear LIST",
		Short: "Delete the finished todos of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.resolveList(args[0])
			if err != nil {
				return err
			}
			n, err := a.svc.ClearDone(l.ID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d todos\n", n)
			return nil
		},
	}
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "templates",
		Short:       "Show the available list templates",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipStore: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, t := range todos.Templates() {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", t, t.Description())
			}
			return nil
		},
	}
}
