// Package ingest provides the single entry point for metadata declarations.
//
// The facade receives one event at a time, validates its shape, checks every
// referenced tag against the taxonomy registry, resolves versions through the
// catalog engine, and - for run IO reports - materializes lineage edges. All
// steps for one event apply atomically from the caller's perspective: every
// check runs before the event's single logical write, so a failed ingest
// leaves the catalog exactly as it was.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metaline-io/metaline/internal/catalog"
	"github.com/metaline-io/metaline/internal/lineage"
	"github.com/metaline-io/metaline/internal/taxonomy"
)

// defaultRunAttempts bounds the per-run optimistic retry loop, mirroring the
// versioner's budget for identity heads.
const defaultRunAttempts = 5

// Ingester dispatches declaration events to the catalog components in order:
// shape validation, taxonomy validation, version resolution, persistence,
// lineage, run state.
type Ingester struct {
	store       catalog.Store
	registry    *taxonomy.Registry
	versioner   *catalog.Versioner
	graph       *lineage.Graph
	logger      *slog.Logger
	runAttempts int
	now         func() time.Time
}

// Option configures optional Ingester behavior.
type Option func(*Ingester)

// WithRunAttempts overrides the optimistic-retry budget for run transitions.
func WithRunAttempts(n int) Option {
	return func(in *Ingester) {
		if n > 0 {
			in.runAttempts = n
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(in *Ingester) {
		in.now = now
		// Keep version timestamps on the same clock.
		in.versioner = catalog.NewVersioner(in.store, in.logger, catalog.WithClock(now))
	}
}

// NewIngester wires the facade over a catalog store, an edge store, and the
// taxonomy registry.
func NewIngester(store catalog.Store, edges lineage.Store, registry *taxonomy.Registry, logger *slog.Logger, opts ...Option) *Ingester {
	in := &Ingester{
		store:       store,
		registry:    registry,
		versioner:   catalog.NewVersioner(store, logger),
		graph:       lineage.NewGraph(edges, store, logger),
		logger:      logger,
		runAttempts: defaultRunAttempts,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(in)
	}

	return in
}

// Graph exposes the lineage graph for traversal queries. Read side only; all
// writes go through Ingest.
func (in *Ingester) Graph() *lineage.Graph {
	return in.graph
}

// Ingest applies one declaration event to the catalog.
//
// Error taxonomy (all classified with errors.Is):
//   - catalog.ErrValidation: malformed event, never retried
//   - taxonomy.ErrUnknownTag: tag not in the registry
//   - catalog.ErrIdentityConflict: a referenced namespace/source/dataset/job
//     is absent; declare prerequisites first
//   - lineage.ErrDanglingReference: run IO references a missing version
//   - catalog.ErrInvalidTransition: illegal run state change
//   - catalog.ErrContention: optimistic-retry budget exhausted; transient
func (in *Ingester) Ingest(ctx context.Context, event catalog.Event) (*catalog.Ack, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	switch ev := event.(type) {
	case catalog.NamespaceDeclared:
		return in.ingestNamespace(ctx, ev)
	case catalog.SourceDeclared:
		return in.ingestSource(ctx, ev)
	case catalog.DatasetDeclared:
		return in.ingestDataset(ctx, ev)
	case catalog.JobDeclared:
		return in.ingestJob(ctx, ev)
	case catalog.RunStateChanged:
		return in.ingestRunState(ctx, ev)
	case catalog.RunIOReported:
		return in.ingestRunIO(ctx, ev)
	default:
		return nil, fmt.Errorf("%w: unknown event kind %T", catalog.ErrValidation, event)
	}
}

func (in *Ingester) ingestNamespace(ctx context.Context, ev catalog.NamespaceDeclared) (*catalog.Ack, error) {
	now := in.now().UTC()

	err := in.store.UpsertNamespace(ctx, &catalog.Namespace{
		Name:        ev.Name,
		Description: ev.Description,
		Owner:       ev.Owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	return &catalog.Ack{EventKind: ev.Kind()}, nil
}

func (in *Ingester) ingestSource(ctx context.Context, ev catalog.SourceDeclared) (*catalog.Ack, error) {
	now := in.now().UTC()

	err := in.store.UpsertSource(ctx, &catalog.Source{
		Name:          ev.Name,
		Type:          ev.Type,
		ConnectionURL: ev.ConnectionURL,
		Description:   ev.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	return &catalog.Ack{EventKind: ev.Kind()}, nil
}

func (in *Ingester) ingestDataset(ctx context.Context, ev catalog.DatasetDeclared) (*catalog.Ack, error) {
	if err := in.registry.Validate(ev.Meta.TagNames()); err != nil {
		return nil, err
	}

	// The backing source must be declared first, same as the namespace.
	if _, err := in.store.GetSource(ctx, ev.Meta.SourceName); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: source %q not found", catalog.ErrIdentityConflict, ev.Meta.SourceName)
		}

		return nil, err
	}

	rec, isNew, err := in.versioner.ResolveDataset(ctx, catalog.DatasetIdentity(ev.Namespace, ev.Name), &ev.Meta)
	if err != nil {
		return nil, err
	}

	return &catalog.Ack{EventKind: ev.Kind(), VersionID: rec.ID, IsNew: isNew}, nil
}

func (in *Ingester) ingestJob(ctx context.Context, ev catalog.JobDeclared) (*catalog.Ack, error) {
	if err := in.registry.Validate(ev.Meta.Tags); err != nil {
		return nil, err
	}

	// Declared inputs and outputs reference datasets by identity; each must
	// already have at least one version.
	refs := make([]catalog.DatasetRef, 0, len(ev.Meta.Inputs)+len(ev.Meta.Outputs))
	refs = append(refs, ev.Meta.Inputs...)
	refs = append(refs, ev.Meta.Outputs...)

	for _, ref := range refs {
		head, err := in.store.GetHead(ctx, catalog.DatasetIdentity(ref.Namespace, ref.Name))
		if err != nil {
			return nil, err
		}

		if head == nil {
			return nil, fmt.Errorf("%w: dataset %s/%s not found",
				catalog.ErrIdentityConflict, ref.Namespace, ref.Name)
		}
	}

	rec, isNew, err := in.versioner.ResolveJob(ctx, catalog.JobIdentity(ev.Namespace, ev.Name), &ev.Meta)
	if err != nil {
		return nil, err
	}

	return &catalog.Ack{EventKind: ev.Kind(), VersionID: rec.ID, IsNew: isNew}, nil
}

// ingestRunState applies a lifecycle transition under the store's per-run CAS
// primitive, retrying on concurrent modification with the freshly observed
// record.
func (in *Ingester) ingestRunState(ctx context.Context, ev catalog.RunStateChanged) (*catalog.Ack, error) {
	for attempt := 0; attempt < in.runAttempts; attempt++ {
		run, err := in.store.GetRun(ctx, ev.RunID)
		if err != nil {
			return nil, err
		}

		if run == nil {
			run, err = in.newRun(ctx, ev)
			if err != nil {
				return nil, err
			}

			err = in.store.PutRunIfMatches(ctx, 0, run)
		} else {
			if ev.JobVersion != "" && ev.JobVersion != run.JobVersion {
				return nil, fmt.Errorf("%w: run %s is bound to job version %s, not %s",
					catalog.ErrValidation, ev.RunID, run.JobVersion, ev.JobVersion)
			}

			updated := *run
			if err := catalog.ApplyRunTransition(&updated, ev.State, ev.EventTime.UTC()); err != nil {
				return nil, err
			}

			updated.Revision = run.Revision + 1
			updated.UpdatedAt = in.now().UTC()

			run = &updated
			err = in.store.PutRunIfMatches(ctx, updated.Revision-1, run)
		}

		if err == nil {
			in.logger.Info("run state applied",
				slog.String("run_id", run.ID),
				slog.String("state", string(run.State)),
			)

			return &catalog.Ack{EventKind: ev.Kind(), RunID: run.ID, RunState: run.State, VersionID: run.JobVersion}, nil
		}

		if !isRevisionConflict(err) {
			return nil, err
		}

		in.logger.Debug("run modified concurrently, retrying",
			slog.String("run_id", ev.RunID),
			slog.Int("attempt", attempt+1),
		)
	}

	return nil, fmt.Errorf("%w: run %s after %d attempts", catalog.ErrContention, ev.RunID, in.runAttempts)
}

// newRun builds the initial run record for a first-seen run id. The first
// event must carry the job version the run binds to; the run keeps that
// binding even when the job is redeclared later. A first event with a
// non-NEW state covers missed or out-of-order START observations.
func (in *Ingester) newRun(ctx context.Context, ev catalog.RunStateChanged) (*catalog.Run, error) {
	if ev.JobVersion == "" {
		return nil, fmt.Errorf("%w: first event for run %s must reference a job version",
			catalog.ErrValidation, ev.RunID)
	}

	rec, err := in.store.GetVersion(ctx, ev.JobVersion)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: job version %q not found", catalog.ErrIdentityConflict, ev.JobVersion)
		}

		return nil, err
	}

	if rec.Identity.Kind != catalog.KindJob {
		return nil, fmt.Errorf("%w: version %q is a %s version, not a job version",
			catalog.ErrValidation, ev.JobVersion, rec.Identity.Kind)
	}

	now := in.now().UTC()
	run := &catalog.Run{
		ID:         ev.RunID,
		JobVersion: ev.JobVersion,
		State:      catalog.RunStateNew,
		Revision:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if ev.State != catalog.RunStateNew {
		if err := catalog.ApplyRunTransition(run, ev.State, ev.EventTime.UTC()); err != nil {
			return nil, err
		}
	}

	return run, nil
}

func (in *Ingester) ingestRunIO(ctx context.Context, ev catalog.RunIOReported) (*catalog.Ack, error) {
	run, err := in.store.GetRun(ctx, ev.RunID)
	if err != nil {
		return nil, err
	}

	if run == nil {
		return nil, fmt.Errorf("%w: run %q not found", catalog.ErrIdentityConflict, ev.RunID)
	}

	// The run stays bound to the job version it was declared with; IO reports
	// naming a different version are rejected rather than silently rebound.
	if ev.JobVersion != "" && ev.JobVersion != run.JobVersion {
		return nil, fmt.Errorf("%w: run %s is bound to job version %s, not %s",
			catalog.ErrValidation, ev.RunID, run.JobVersion, ev.JobVersion)
	}

	jobRec, err := in.store.GetVersion(ctx, run.JobVersion)
	if err != nil {
		return nil, err
	}

	job := lineage.JobNode(jobRec.Identity.Namespace, jobRec.Identity.Name, jobRec.ID)

	inputs := make([]lineage.NodeRef, len(ev.Inputs))
	for i, ref := range ev.Inputs {
		inputs[i] = lineage.DatasetNode(ref.Namespace, ref.Name, ref.Version)
	}

	outputs := make([]lineage.NodeRef, len(ev.Outputs))
	for i, ref := range ev.Outputs {
		outputs[i] = lineage.DatasetNode(ref.Namespace, ref.Name, ref.Version)
	}

	if _, err := in.graph.RecordRunIO(ctx, ev.RunID, job, inputs, outputs); err != nil {
		return nil, err
	}

	return &catalog.Ack{EventKind: ev.Kind(), RunID: run.ID, RunState: run.State, VersionID: run.JobVersion}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, catalog.ErrNotFound)
}

func isRevisionConflict(err error) bool {
	return errors.Is(err, catalog.ErrRevisionConflict)
}
