package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/jacentio/xmlvault/xmlkey"
)

// Repository stores XML elements as named entries of one versioned bucket.
type Repository struct {
	backend Backend
	config  Config
	logger  *slog.Logger
}

// New creates a new Repository instance.
func New(backend Backend, config Config) *Repository {
	return NewWithLogger(backend, config, nil)
}

// NewWithLogger creates a new Repository instance that reports delete
// faults and compensation results to logger.
func NewWithLogger(backend Backend, config Config, logger *slog.Logger) *Repository {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		backend: backend,
		config:  config,
		logger:  logger,
	}
}

// Config returns the repository's bucket location.
func (r *Repository) Config() Config {
	return r.config
}

// FetchAll returns every element in the bucket ordered by entry name.
// A missing bucket yields an empty result.
func (r *Repository) FetchAll(ctx context.Context) ([]*xmlkey.Element, error) {
	snap, err := r.backend.Read(ctx, r.config.Path, r.config.Mount)
	if errors.Is(err, ErrNotFound) {
		return []*xmlkey.Element{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bucket: %w", err)
	}

	elements := make([]*xmlkey.Element, 0, len(snap.Data))
	for _, key := range slices.Sorted(maps.Keys(snap.Data)) {
		value := snap.Data[key]
		if value == nil {
			continue
		}
		element, err := parsePayload(key, value)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
	}
	return elements, nil
}

// StoreElement writes element under name, leaving other entries untouched.
// The write is conditioned on the version that was read; a concurrent
// writer surfaces as ErrVersionConflict and is not retried.
func (r *Repository) StoreElement(ctx context.Context, element *xmlkey.Element, name string) error {
	var expected *int
	data := map[string]any{}

	snap, err := r.backend.Read(ctx, r.config.Path, r.config.Mount)
	switch {
	case errors.Is(err, ErrNotFound):
		// First write creates the bucket
	case err != nil:
		return fmt.Errorf("read bucket: %w", err)
	default:
		version := snap.Version
		expected = &version
		maps.Copy(data, snap.Data)
	}

	data[name] = element.String()

	if _, err := r.backend.Write(ctx, r.config.Path, data, expected, r.config.Mount); err != nil {
		return fmt.Errorf("write bucket: %w", err)
	}
	return nil
}

// Put stores element under the conventional name derived from its id
// attribute, so that DeleteChosen's consistency check holds for it.
func (r *Repository) Put(ctx context.Context, element *xmlkey.Element) error {
	id := element.ID()
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: element has no id attribute", ErrConsistencyViolation)
	}
	return r.StoreElement(ctx, element, xmlkey.FriendlyName(id))
}

// DeleteChosen removes the entries choose marks for deletion.
//
// The surviving entries are written back as a new version after every
// earlier version has been deleted, so history of the removed entries does
// not survive. If that commit fails the deleted versions are restored.
//
// It reports true when the round completed, including when choose marked
// nothing. It reports false when the bucket is empty or absent, when the
// commit was rolled back, and on any other fault. It never panics on behalf
// of choose.
func (r *Repository) DeleteChosen(ctx context.Context, choose Selector) bool {
	outcome, err := r.deleteChosen(ctx, choose)
	if err != nil {
		r.logger.Warn("delete round failed",
			"path", r.config.Path,
			"mount", r.config.Mount,
			"outcome", outcome.String(),
			"error", err,
		)
	}
	return outcome.Succeeded()
}

// deleteChosen runs one delete round and reports how it ended.
func (r *Repository) deleteChosen(ctx context.Context, choose Selector) (Outcome, error) {
	if choose == nil {
		return OutcomeFailed, ErrNilSelector
	}

	// 1. Load
	snap, err := r.backend.Read(ctx, r.config.Path, r.config.Mount)
	if errors.Is(err, ErrNotFound) {
		return OutcomeEmpty, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read bucket: %w", err)
	}
	current := snap.Version
	if len(snap.Data) < 1 || current < 1 {
		return OutcomeEmpty, nil
	}

	// 2. Build candidates
	candidates, err := buildCandidates(snap.Data)
	if err != nil {
		return OutcomeFailed, err
	}

	// 3. Let the caller choose
	offered := slices.Clone(candidates)
	if err := runSelector(choose, offered); err != nil {
		return OutcomeFailed, err
	}

	// 4. Collect in deletion order
	chosen := chosenInOrder(candidates)
	if len(chosen) == 0 {
		return OutcomeNoOp, nil
	}

	data := maps.Clone(snap.Data)
	for _, c := range chosen {
		order, _ := c.DeletionOrder()
		r.logger.Debug("removing entry",
			"path", r.config.Path,
			"key", c.Key(),
			"order", order,
		)
		delete(data, c.Key())
	}

	return r.commitOrCompensate(ctx, data, current)
}

// buildCandidates parses every entry and checks its id against its name.
// Candidates are ordered by entry name.
func buildCandidates(data map[string]any) ([]*DeletionCandidate, error) {
	candidates := make([]*DeletionCandidate, 0, len(data))
	for _, key := range slices.Sorted(maps.Keys(data)) {
		value := data[key]
		if value == nil {
			return nil, fmt.Errorf("%w: entry %q is empty", ErrMalformedPayload, key)
		}
		element, err := parsePayload(key, value)
		if err != nil {
			return nil, err
		}
		if !element.MatchesName(key) {
			return nil, fmt.Errorf("%w: entry %q has id %q", ErrConsistencyViolation, key, element.ID())
		}
		candidates = append(candidates, &DeletionCandidate{key: key, element: element})
	}
	return candidates, nil
}

// runSelector invokes choose, converting a panic into an error.
func runSelector(choose Selector, candidates []*DeletionCandidate) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrSelectorPanic, p)
		}
	}()
	choose(candidates)
	return nil
}

// chosenInOrder returns the candidates with a deletion order, ascending.
// Ties keep entry-name order.
func chosenInOrder(candidates []*DeletionCandidate) []*DeletionCandidate {
	var chosen []*DeletionCandidate
	for _, c := range candidates {
		if _, ok := c.DeletionOrder(); ok {
			chosen = append(chosen, c)
		}
	}
	slices.SortStableFunc(chosen, func(a, b *DeletionCandidate) int {
		ao, _ := a.DeletionOrder()
		bo, _ := b.DeletionOrder()
		return cmp.Compare(ao, bo)
	})
	return chosen
}

// parsePayload converts one stored value into an element.
func parsePayload(key string, value any) (*xmlkey.Element, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: entry %q holds %T", ErrPayloadType, key, value)
	}
	element, err := xmlkey.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %q: %w", ErrMalformedPayload, key, err)
	}
	return element, nil
}
