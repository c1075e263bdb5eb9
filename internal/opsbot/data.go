package opsbot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"opsconsole/internal/console/metrics"
	"opsconsole/internal/console/search"
	"opsconsole/internal/storage"
	kit "opsconsole/internal/transport"
	"opsconsole/internal/transport/telegram/router"
	logx "opsconsole/pkg/logx"
)

var errNoSearch = errors.New("no search in this chat yet, run /search first")

func (sc *scope) metrics(ctx context.Context, req *router.Request) error {
	arg := ""
	if len(req.Args) > 0 {
		arg = req.Args[0]
	}
	f, err := metrics.ParseFilter(arg)
	if err != nil {
		return err
	}
	rep, err := metrics.Counts(ctx, sc.s.Backend, f)
	if err != nil {
		return err
	}
	if err := req.ReplyHTML(ctx, renderMetrics(rep)); err != nil {
		return err
	}
	if len(rep.Rows) == 0 {
		return nil
	}
	png, err := metrics.Pie(ctx, sc.s.Backend, f)
	if err != nil {
		req.Logger.Warn("pie chart failed", logx.Err(err))
		return req.ReplyHTML(ctx, "⚠️ chart unavailable: "+escape(err.Error()))
	}
	_, err = sc.adapter.SendPhoto(ctx, req.Chat, kit.Upload{
		Name:    "categories-" + f.Label() + ".png",
		Data:    bytes.NewReader(png),
		Caption: "categories (" + f.Label() + ")",
	})
	return err
}

// searchQuery is the command text, or the photo caption for a bare photo.
func searchQuery(req *router.Request) string {
	if req.Path == nil && req.Update.Message != nil {
		return strings.TrimSpace(req.Update.Message.Text)
	}
	return strings.TrimSpace(strings.Join(req.Args, " "))
}

// search runs a text search, or an image search when a photo is attached.
// A photo with text is a multimodal search.
func (sc *scope) search(ctx context.Context, req *router.Request) error {
	topK := 0
	if v := req.Flag("top", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return search.ErrTopK
		}
		topK = n
	}
	alpha := search.DefaultAlpha
	if v := req.Flag("alpha", ""); v != "" {
		a, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return search.ErrAlpha
		}
		alpha = a
	}
	query := searchQuery(req)

	var (
		results []search.Result
		err     error
	)
	if req.Photo == nil {
		results, err = search.Text(ctx, sc.s.Backend, query, topK)
	} else {
		data, derr := sc.adapter.Download(ctx, *req.Photo, sc.opts.MaxImage)
		if derr != nil {
			return fmt.Errorf("download image: %w", derr)
		}
		img := search.Image{Name: req.Photo.FileName, Data: bytes.NewReader(data)}
		if query == "" {
			results, err = search.ImageSearch(ctx, sc.s.Backend, img, topK)
		} else {
			results, err = search.Multimodal(ctx, sc.s.Backend, query, img, alpha, topK)
		}
	}
	if err != nil {
		return err
	}

	view := &searchView{results: results, window: sc.s.HistoryWindow(ctx)}
	sc.setSearch(sc.s.ID, view)
	return sc.replyResults(ctx, req, view)
}

func (sc *scope) replyResults(ctx context.Context, req *router.Request, v *searchView) error {
	v.mu.Lock()
	text := renderResults(v.results, v.window, sc.opts.SearchShown)
	var rows [][]kit.Button
	for i, r := range v.results {
		if i >= sc.opts.SearchShown {
			break
		}
		if len(r.History) == 0 {
			continue
		}
		row := []kit.Button{button(fmt.Sprintf("📄 CSV %d", i+1), fmt.Sprintf("hist:csv:%d", i))}
		if len(v.window.Visible(r)) < len(r.History) {
			row = append([]kit.Button{button(fmt.Sprintf("➕ history %d", i+1), fmt.Sprintf("hist:more:%d", i))}, row...)
		}
		rows = append(rows, row)
	}
	v.mu.Unlock()
	return req.ReplyHTML(ctx, text, rows...)
}

func (sc *scope) searchResult(payload string) (*searchView, search.Result, error) {
	v, ok := sc.lastSearch(sc.s.ID)
	if !ok {
		return nil, search.Result{}, errNoSearch
	}
	i, err := strconv.Atoi(payload)
	if err != nil || i < 0 || i >= len(v.results) {
		return nil, search.Result{}, fmt.Errorf("result %q is gone, search again", payload)
	}
	return v, v.results[i], nil
}

func (sc *scope) cbHistoryMore(ctx context.Context, req *router.Request, payload string) error {
	v, r, err := sc.searchResult(payload)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.window.More(r)
	v.mu.Unlock()
	return sc.replyResults(ctx, req, v)
}

func (sc *scope) cbHistoryCSV(ctx context.Context, req *router.Request, payload string) error {
	v, r, err := sc.searchResult(payload)
	if err != nil {
		return err
	}
	v.mu.Lock()
	rows := v.window.Visible(r)
	v.mu.Unlock()
	var buf bytes.Buffer
	if err := search.WriteHistoryCSV(&buf, rows); err != nil {
		return err
	}
	_, err = sc.adapter.SendDocument(ctx, req.Chat, kit.Upload{
		Name:    "price-history-" + r.ID + ".csv",
		Data:    &buf,
		Caption: r.Name,
	})
	return err
}

func (sc *scope) prefs(ctx context.Context, req *router.Request) error {
	const usage = "/prefs [history <n>|step <n>]"
	p := sc.s.Prefs
	switch len(req.Args) {
	case 0:
	case 2:
		n, err := parseCount(req.Args[1], 1, storage.MaxHistoryWindow)
		if err != nil {
			return err
		}
		switch strings.ToLower(req.Args[0]) {
		case "history":
			err = p.SetHistoryDefault(ctx, n)
		case "step":
			err = p.SetHistoryStep(ctx, n)
		default:
			return usageError(usage)
		}
		if err != nil {
			return err
		}
	default:
		return usageError(usage)
	}
	return req.ReplyHTML(ctx, renderPrefs(p.HistoryDefault(ctx), p.HistoryStep(ctx), sc.s.Logs.AutoRefresh()))
}
