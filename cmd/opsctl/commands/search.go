package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"opsconsole/internal/console/search"
)

func writeFile(path string, b []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}

func openImage(path string) (search.Image, func(), error) {
	if path == "" {
		return search.Image{}, func() {}, search.ErrNoImage
	}
	f, err := os.Open(path)
	if err != nil {
		return search.Image{}, func() {}, err
	}
	return search.Image{Name: filepath.Base(path), Data: f}, func() { _ = f.Close() }, nil
}

func (a *AppContext) printResults(ctx context.Context, res []search.Result, csvDir string) error {
	if len(res) == 0 {
		a.printf("no results\n")
		return nil
	}
	w := search.NewHistoryWindow(a.Session.Prefs.HistoryDefault(ctx), a.Session.Prefs.HistoryStep(ctx))
	for i, r := range res {
		a.printf("%2d. %s [%s] %s score=%.3f\n", i+1, r.Name, r.Category, search.FormatPrice(r.Price), r.Score)
		if r.Address != "" {
			a.printf("    %s\n", r.Address)
		}
		for _, p := range w.Visible(r) {
			a.printf("    %-20s %s\n", p.LastUpdated, p.SellingPrice)
		}
		if csvDir == "" || len(r.History) == 0 {
			continue
		}
		path := filepath.Join(csvDir, fmt.Sprintf("price-history-%s.csv", r.ID))
		if err := os.MkdirAll(csvDir, 0o755); err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := errors.Join(search.WriteHistoryCSV(f, r.History), f.Close()); err != nil {
			return err
		}
	}
	return nil
}

func searchTextAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	res, err := search.Text(ctx, a.Session.Backend, cmd.Args().First(), int(cmd.Int("top")))
	if err != nil {
		return err
	}
	return a.printResults(ctx, res, cmd.String("csv"))
}

func searchImageAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	img, done, err := openImage(cmd.String("file"))
	if err != nil {
		return err
	}
	defer done()
	res, err := search.ImageSearch(ctx, a.Session.Backend, img, int(cmd.Int("top")))
	if err != nil {
		return err
	}
	return a.printResults(ctx, res, cmd.String("csv"))
}

func searchMultiAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	img, done, err := openImage(cmd.String("file"))
	if err != nil {
		return err
	}
	defer done()
	res, err := search.Multimodal(ctx, a.Session.Backend, cmd.Args().First(), img, cmd.Float("alpha"), int(cmd.Int("top")))
	if err != nil {
		return err
	}
	return a.printResults(ctx, res, cmd.String("csv"))
}
