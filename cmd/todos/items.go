package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astromechza/talking-todos/pkg/generate"
	"github.com/astromechza/talking-todos/pkg/todos"
)

func todoFlags(cmd *cobra.Command, t *todos.Todo) {
	cmd.Flags().StringVar(&t.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&t.Emoji, "emoji", "", "emoji")
	cmd.Flags().StringVar(&t.Category, "category", "", "category")
	cmd.Flags().StringVar(&t.Date, "date", "", "due date as YYYY-MM-DD")
	cmd.Flags().Float64Var(&t.Number, "number", 0, "amount, quantity or price")
}

func newAddCmd(a *app) *cobra.Command {
	var t todos.Todo
	cmd := &cobra.Command{
		Use:   "add LIST TEXT",
		Short: "Add a todo to a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.resolveList(args[0])
			if err != nil {
				return err
			}
			t.Text = strings.Join(args[1:], " ")
			added, err := a.svc.AddTodo(l.ID, t)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added %s %s\n", added.ID, added.Text)
			return nil
		},
	}
	todoFlags(cmd, &t)
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	var text string
	var patch todos.Todo
	cmd := &cobra.Command{
		Use:   "edit TODO",
		Short: "Change the fields of a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.svc.GetTodo(args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("text") {
				t.Text = text
			}
			if flags.Changed("notes") {
				t.Notes = patch.Notes
			}
			if flags.Changed("emoji") {
				t.Emoji = patch.Emoji
			}
			if flags.Changed("category") {
				t.Category = patch.Category
			}
			if flags.Changed("date") {
				t.Date = patch.Date
			}
			if flags.Changed("number") {
				t.Number = patch.Number
			}
			_, err = a.svc.UpdateTodo(t)
			return err
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "todo text")
	todoFlags(cmd, &patch)
	return cmd
}

func newDoneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "done TODO...",
		Short: "Toggle whether todos are done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				t, err := a.svc.ToggleTodo(id)
				if err != nil {
					return err
				}
				state := "open"
				if t.Done {
					state = "done"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", t.Text, state)
			}
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a todo, or with --list a whole list and its todos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list {
				return a.svc.DeleteTodo(args[0])
			}
			l, err := a.resolveList(args[0])
			if err != nil {
				return err
			}
			return a.svc.DeleteList(l.ID)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "delete a list")
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "generate LIST",
		Short: "Ask Gemini for todos that fit the list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.resolveList(args[0])
			if err != nil {
				return err
			}
			gen, err := a.newGenerator(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			added, err := a.svc.Generate(cmd.Context(), gen, l.ID, count)
			if err != nil {
				return err
			}
			for _, t := range added {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added %s %s%s\n", t.ID, emojiPrefix(t.Emoji), t.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", generate.DefaultCount, "how many todos to ask for")
	return cmd
}
