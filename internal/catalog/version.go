package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// defaultResolveAttempts bounds the optimistic-concurrency retry loop. Head
// contention on a single identity is short-lived (one CAS round-trip per
// competing producer), so a small budget is enough; exhausting it surfaces
// ErrContention, which is safe for the caller to retry.
const defaultResolveAttempts = 5

// Versioner resolves declarations to content-addressed versions.
//
// Per-identity resolution is linearizable: the store's PutIfHeadMatches CAS
// primitive guards every append, so two concurrent identical declarations
// cannot both believe they created a new version - at most one commits, the
// other observes the committed head and reports isNew=false.
type Versioner struct {
	store       Store
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

// VersionerOption configures optional Versioner behavior.
type VersionerOption func(*Versioner)

// WithResolveAttempts overrides the optimistic-retry budget.
func WithResolveAttempts(n int) VersionerOption {
	return func(v *Versioner) {
		if n > 0 {
			v.maxAttempts = n
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) VersionerOption {
	return func(v *Versioner) {
		v.now = now
	}
}

// NewVersioner creates a versioning engine backed by the given store.
func NewVersioner(store Store, logger *slog.Logger, opts ...VersionerOption) *Versioner {
	v := &Versioner{
		store:       store,
		logger:      logger,
		maxAttempts: defaultResolveAttempts,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// ResolveDataset resolves a dataset declaration to a version.
// Returns the version record and whether it was newly created.
func (v *Versioner) ResolveDataset(ctx context.Context, identity Identity, meta *DatasetMeta) (*VersionRecord, bool, error) {
	normalized := normalizeDatasetMeta(meta)
	fingerprint := DatasetFingerprint(normalized)

	return v.resolve(ctx, identity, fingerprint, &VersionRecord{Dataset: normalized})
}

// ResolveJob resolves a job declaration to a version.
func (v *Versioner) ResolveJob(ctx context.Context, identity Identity, meta *JobMeta) (*VersionRecord, bool, error) {
	normalized := normalizeJobMeta(meta)
	fingerprint := JobFingerprint(normalized)

	return v.resolve(ctx, identity, fingerprint, &VersionRecord{Job: normalized})
}

// resolve implements the optimistic append loop:
//
//  1. Look up the identity's current head.
//  2. If the head's fingerprint equals the computed one, the declaration is a
//     no-op duplicate: return the existing version with isNew=false.
//  3. If a non-head version with the computed id already exists, the content
//     was declared before and later superseded: reuse that record with
//     isNew=false instead of appending a colliding id.
//  4. Otherwise append a new record chained after the head via
//     PutIfHeadMatches; on head conflict, re-observe and retry.
//
// The identity's namespace must exist; resolving against an undeclared
// namespace fails with ErrIdentityConflict.
func (v *Versioner) resolve(ctx context.Context, identity Identity, fingerprint string, rec *VersionRecord) (*VersionRecord, bool, error) {
	if _, err := v.store.GetNamespace(ctx, identity.Namespace); err != nil {
		if isNotFound(err) {
			return nil, false, fmt.Errorf("%w: namespace %q not found", ErrIdentityConflict, identity.Namespace)
		}

		return nil, false, err
	}

	rec.Identity = identity
	rec.Fingerprint = fingerprint
	rec.ID = VersionID(identity, fingerprint)

	for attempt := 0; attempt < v.maxAttempts; attempt++ {
		head, err := v.store.GetHead(ctx, identity)
		if err != nil {
			return nil, false, err
		}

		if head != nil && head.Fingerprint == fingerprint {
			return head, false, nil
		}

		// Content-addressed ids make an earlier declaration of the same
		// content resolvable by id even after intervening changes. Appending
		// here would collide with the stored record and break the history
		// chain, so the existing version is reused instead.
		existing, err := v.store.GetVersion(ctx, rec.ID)
		if err == nil {
			return existing, false, nil
		}

		if !isNotFound(err) {
			return nil, false, err
		}

		candidate := *rec
		candidate.CreatedAt = v.now().UTC()

		expectedHead := ""
		if head != nil {
			expectedHead = head.ID
			candidate.Previous = head.ID
		}

		err = v.store.PutIfHeadMatches(ctx, identity, expectedHead, &candidate)
		if err == nil {
			v.logger.Info("new version created",
				slog.String("identity", identity.String()),
				slog.String("version", candidate.ID),
				slog.String("previous", candidate.Previous),
			)

			return &candidate, true, nil
		}

		// A duplicate id means a competitor committed the same content between
		// the lookup and the append; the next attempt resolves to its record.
		if !isHeadConflict(err) && !isDuplicateVersion(err) {
			return nil, false, err
		}

		v.logger.Debug("head moved during resolve, retrying",
			slog.String("identity", identity.String()),
			slog.Int("attempt", attempt+1),
		)
	}

	return nil, false, fmt.Errorf("%w: %s after %d attempts", ErrContention, identity, v.maxAttempts)
}

// normalizeDatasetMeta returns a copy with canonical tag sets. Fields keep
// their declared order; field tag sets are normalized in place on the copy.
func normalizeDatasetMeta(meta *DatasetMeta) *DatasetMeta {
	normalized := *meta
	normalized.Tags = NormalizeTags(meta.Tags)
	normalized.Fields = make([]Field, len(meta.Fields))

	for i, field := range meta.Fields {
		normalized.Fields[i] = field
		normalized.Fields[i].Tags = NormalizeTags(field.Tags)
	}

	return &normalized
}

func normalizeJobMeta(meta *JobMeta) *JobMeta {
	normalized := *meta
	normalized.Tags = NormalizeTags(meta.Tags)

	return &normalized
}
