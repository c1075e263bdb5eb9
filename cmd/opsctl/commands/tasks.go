package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"opsconsole/internal/console/gate"
)

func cancelWord(c *bool) string {
	switch {
	case c == nil:
		return "unknown"
	case *c:
		return "cancelled"
	default:
		return "active"
	}
}

func tasksStatusAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	c, err := a.Session.Gate.RefreshCancel(ctx)
	if err != nil {
		return err
	}
	a.printf("tasks: %s\n", cancelWord(c))
	return nil
}

func tasksStopAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	if err := a.Session.Gate.Cancel(ctx); err != nil {
		return err
	}
	a.printf("tasks: cancelled\n")
	return nil
}

func tasksResumeAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	if err := a.Session.Gate.Resume(ctx); err != nil {
		return err
	}
	a.printf("tasks: active\n")
	return nil
}

func (a *AppContext) printCategories() {
	st := a.Session.Gate.State()
	saved := "not saved"
	if st.Persisted {
		saved = "saved"
	}
	a.printf("categories (%s)\n", saved)
	sel := map[string]bool{}
	for _, n := range st.Selected {
		sel[n] = true
	}
	for _, c := range a.Session.Gate.Catalog() {
		mark := " "
		if sel[c.Name] {
			mark = "x"
		}
		a.printf("  [%s] %-26s %s\n", mark, c.Name, c.ID)
	}
}

func categoriesShowAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	if err := a.Session.Gate.Load(ctx); err != nil {
		return err
	}
	a.printCategories()
	return nil
}

func categoriesSaveAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	var err error
	if cmd.Bool("all") {
		_, err = a.Session.Gate.SaveAll(ctx)
	} else {
		_, err = a.Session.Gate.Save(ctx, cmd.Args().Slice())
	}
	var unknown *gate.UnknownCategoryError
	if errors.As(err, &unknown) {
		return fmt.Errorf("%w (known: %s)", err, strings.Join(a.Session.Gate.Catalog().Names(), ", "))
	}
	if err != nil {
		return err
	}
	a.printCategories()
	return nil
}

func categoriesResetAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	if err := a.Session.Gate.Reset(ctx); err != nil {
		return err
	}
	a.printf("category selection deleted\n")
	return nil
}

// runAction selects and runs one task. The gate is loaded first so the
// precondition check sees the backend's state.
func runAction(f gate.Family) func(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	return func(ctx context.Context, cmd *cli.Command, a *AppContext) error {
		key := cmd.Args().First()
		sel := a.Session.Scrape
		if f == gate.FamilyUpload {
			sel = a.Session.Upload
		}
		if key == "" {
			for _, t := range sel.Tasks() {
				a.printf("  %-9s %s\n", t.Key, t.Label)
			}
			return fmt.Errorf("usage: run %s <key>", f)
		}
		_, cerr := a.Session.Gate.RefreshCancel(ctx)
		if err := errors.Join(a.Session.Gate.Load(ctx), cerr); err != nil {
			return err
		}
		if _, err := sel.Select(key); err != nil {
			return err
		}
		st, err := sel.Run(ctx)
		if err != nil {
			return err
		}
		a.printf("%s %s: %s\n", f, key, orDefault(st.Message, "done"))
		return nil
	}
}
