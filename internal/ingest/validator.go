package ingest

import (
	"fmt"
	"strings"

	"github.com/metaline-io/metaline/internal/catalog"
)

// Shape validation for declaration events. Everything here is caller error
// territory: a failed check wraps catalog.ErrValidation and the event is
// never retried by the engine. Charset restrictions on identifiers are the
// transport collaborator's concern; this layer checks presence and structural
// coherence only.

func validateEvent(event catalog.Event) error {
	switch ev := event.(type) {
	case catalog.NamespaceDeclared:
		return requireNonEmpty("namespace name", ev.Name)
	case catalog.SourceDeclared:
		return validateSource(ev)
	case catalog.DatasetDeclared:
		return validateDataset(ev)
	case catalog.JobDeclared:
		return validateJob(ev)
	case catalog.RunStateChanged:
		return validateRunState(ev)
	case catalog.RunIOReported:
		return validateRunIO(ev)
	default:
		return fmt.Errorf("%w: unknown event kind %T", catalog.ErrValidation, event)
	}
}

func validateSource(ev catalog.SourceDeclared) error {
	if err := requireNonEmpty("source name", ev.Name); err != nil {
		return err
	}

	if !ev.Type.IsValid() {
		return fmt.Errorf("%w: source type is required", catalog.ErrValidation)
	}

	return nil
}

func validateDataset(ev catalog.DatasetDeclared) error {
	if err := requireNonEmpty("dataset namespace", ev.Namespace); err != nil {
		return err
	}

	if err := requireNonEmpty("dataset name", ev.Name); err != nil {
		return err
	}

	if err := requireNonEmpty("dataset source", ev.Meta.SourceName); err != nil {
		return err
	}

	if err := requireNonEmpty("dataset physical name", ev.Meta.PhysicalName); err != nil {
		return err
	}

	seen := make(map[string]bool, len(ev.Meta.Fields))

	for i, field := range ev.Meta.Fields {
		if strings.TrimSpace(field.Name) == "" {
			return fmt.Errorf("%w: field %d has no name", catalog.ErrValidation, i)
		}

		if strings.TrimSpace(field.Type) == "" {
			return fmt.Errorf("%w: field %q has no type", catalog.ErrValidation, field.Name)
		}

		if seen[field.Name] {
			return fmt.Errorf("%w: duplicate field %q", catalog.ErrValidation, field.Name)
		}

		seen[field.Name] = true
	}

	return nil
}

func validateJob(ev catalog.JobDeclared) error {
	if err := requireNonEmpty("job namespace", ev.Namespace); err != nil {
		return err
	}

	if err := requireNonEmpty("job name", ev.Name); err != nil {
		return err
	}

	if !ev.Meta.Type.IsValid() {
		return fmt.Errorf("%w: job type %q (valid: BATCH, STREAM, SERVICE)", catalog.ErrValidation, ev.Meta.Type)
	}

	if err := requireNonEmpty("job location", ev.Meta.Location); err != nil {
		return err
	}

	for _, ref := range append(append([]catalog.DatasetRef{}, ev.Meta.Inputs...), ev.Meta.Outputs...) {
		if strings.TrimSpace(ref.Namespace) == "" || strings.TrimSpace(ref.Name) == "" {
			return fmt.Errorf("%w: dataset reference must carry namespace and name", catalog.ErrValidation)
		}
	}

	return nil
}

func validateRunState(ev catalog.RunStateChanged) error {
	if err := requireNonEmpty("run id", ev.RunID); err != nil {
		return err
	}

	if !ev.State.IsValid() {
		return fmt.Errorf("%w: run state %q (valid: NEW, RUNNING, COMPLETED, FAILED, ABORTED)",
			catalog.ErrValidation, ev.State)
	}

	if ev.EventTime.IsZero() {
		return fmt.Errorf("%w: run state change requires an event time", catalog.ErrValidation)
	}

	return nil
}

func validateRunIO(ev catalog.RunIOReported) error {
	if err := requireNonEmpty("run id", ev.RunID); err != nil {
		return err
	}

	if len(ev.Inputs) == 0 && len(ev.Outputs) == 0 {
		return fmt.Errorf("%w: run IO report carries neither inputs nor outputs", catalog.ErrValidation)
	}

	for _, ref := range append(append([]catalog.DatasetVersionRef{}, ev.Inputs...), ev.Outputs...) {
		if strings.TrimSpace(ref.Namespace) == "" || strings.TrimSpace(ref.Name) == "" {
			return fmt.Errorf("%w: dataset version reference must carry namespace and name", catalog.ErrValidation)
		}

		if strings.TrimSpace(ref.Version) == "" {
			return fmt.Errorf("%w: dataset version reference for %s/%s has no version",
				catalog.ErrValidation, ref.Namespace, ref.Name)
		}
	}

	return nil
}

func requireNonEmpty(what, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", catalog.ErrValidation, what)
	}

	return nil
}
