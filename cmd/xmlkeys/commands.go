package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/xmlvault/backend/dynamo"
	"github.com/jacentio/xmlvault/store"
	"github.com/jacentio/xmlvault/xmlkey"
)

// errDeleteFailed is returned when the repository reports a failed delete.
var errDeleteFailed = errors.New("delete failed; bucket left unchanged")

type historian interface {
	History(ctx context.Context, path, mount string) ([]dynamo.VersionInfo, error)
}

type app struct {
	repo    *store.Repository
	backend store.Backend
	out     io.Writer
	logger  *slog.Logger
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list":
		return a.list(ctx)
	case "put":
		return a.put(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "prune":
		return a.prune(ctx, args)
	case "history":
		return a.history(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) list(ctx context.Context) error {
	elements, err := a.repo.FetchAll(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tEXPIRES")
	for _, el := range elements {
		created, _ := el.ChildText("creationDate")
		expires, _ := el.ChildText("expirationDate")
		fmt.Fprintf(w, "%s\t%s\t%s\n", el.ID(), dash(created), dash(expires))
	}
	return w.Flush()
}

func (a *app) put(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	newID := fs.Bool("new-id", false, "assign a fresh id to each key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("put: no files given")
	}

	for _, file := range fs.Args() {
		raw, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		el, err := xmlkey.Parse(string(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if *newID || strings.TrimSpace(el.ID()) == "" {
			el.Root().CreateAttr("id", uuid.NewString())
		}
		if err := a.repo.Put(ctx, el); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		fmt.Fprintln(a.out, el.ID())
	}
	return nil
}

func (a *app) delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return errors.New("delete: no ids given")
	}

	matched := map[string]bool{}
	ok := a.repo.DeleteChosen(ctx, func(candidates []*store.DeletionCandidate) {
		for _, c := range candidates {
			for i, id := range ids {
				if strings.EqualFold(c.Element().ID(), id) {
					c.SetDeletionOrder(i)
					matched[strings.ToLower(id)] = true
				}
			}
		}
	})
	if !ok {
		return errDeleteFailed
	}

	for _, id := range ids {
		if !matched[strings.ToLower(id)] {
			a.logger.Warn("no key with id", "id", id)
		}
	}
	return nil
}

func (a *app) prune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	keep := fs.Int("keep", 2, "number of newest keys to keep")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keep < 0 {
		return fmt.Errorf("prune: -keep must not be negative, got %d", *keep)
	}

	if !a.repo.DeleteChosen(ctx, pruneSelector(*keep)) {
		return errDeleteFailed
	}
	return nil
}

// pruneSelector marks all but the keep newest candidates, oldest first.
// Keys without a parseable creationDate count as oldest.
func pruneSelector(keep int) store.Selector {
	return func(candidates []*store.DeletionCandidate) {
		sorted := slices.Clone(candidates)
		slices.SortStableFunc(sorted, func(x, y *store.DeletionCandidate) int {
			return creationTime(x.Element()).Compare(creationTime(y.Element()))
		})
		for i := 0; i < len(sorted)-keep; i++ {
			sorted[i].SetDeletionOrder(i)
		}
	}
}

func creationTime(el *xmlkey.Element) time.Time {
	text, ok := el.ChildText("creationDate")
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (a *app) history(ctx context.Context) error {
	h, ok := a.backend.(historian)
	if !ok {
		return errors.New("history: backend does not keep queryable history")
	}

	cfg := a.repo.Config()
	versions, err := h.History(ctx, cfg.Path, cfg.Mount)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tDELETED\tENTRIES")
	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", v.Version, dash(v.CreatedAt), dash(v.DeletedAt), v.Entries)
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
