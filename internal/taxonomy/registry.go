// Package taxonomy provides the closed set of classification tags the catalog
// accepts on datasets, fields, and jobs.
//
// The tag set is loaded once at process start from a YAML file and is
// read-only afterwards. Declarations may only reference tags that exist in the
// registry; unknown tags are rejected, never silently created.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors for taxonomy validation.
var (
	// ErrUnknownTag is returned when a declaration references a tag that is
	// not part of the configured taxonomy.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrDuplicateTag is returned when the configured taxonomy lists the same
	// tag name twice.
	ErrDuplicateTag = errors.New("duplicate tag in taxonomy")

	// ErrEmptyTagName is returned when the configured taxonomy contains a tag
	// with an empty name.
	ErrEmptyTagName = errors.New("tag name cannot be empty")
)

type (
	// Tag is an immutable (name, description) pair. The name is the stable
	// key; the description only exists in the registry's configured set.
	Tag struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	}

	// Registry holds the configured tag set. Immutable after construction and
	// therefore safe for concurrent use without locking.
	Registry struct {
		tags map[string]Tag
	}
)

// NewRegistry builds a registry from the configured tag set.
// Tag names must be unique and non-empty.
func NewRegistry(tags []Tag) (*Registry, error) {
	byName := make(map[string]Tag, len(tags))

	for _, tag := range tags {
		if tag.Name == "" {
			return nil, ErrEmptyTagName
		}

		if _, exists := byName[tag.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTag, tag.Name)
		}

		byName[tag.Name] = tag
	}

	return &Registry{tags: byName}, nil
}

// Validate checks that every referenced tag name exists in the registry.
// Returns ErrUnknownTag naming the first unknown tag, in input order.
func (r *Registry) Validate(names []string) error {
	for _, name := range names {
		if _, exists := r.tags[name]; !exists {
			return fmt.Errorf("%w: %q", ErrUnknownTag, name)
		}
	}

	return nil
}

// Get returns the tag for the given name, if configured.
func (r *Registry) Get(name string) (Tag, bool) {
	tag, exists := r.tags[name]

	return tag, exists
}

// List returns all configured tags sorted by name.
func (r *Registry) List() []Tag {
	tags := make([]Tag, 0, len(r.tags))
	for _, tag := range r.tags {
		tags = append(tags, tag)
	}

	sort.Slice(tags, func(i, j int) bool {
		return tags[i].Name < tags[j].Name
	})

	return tags
}

// Len returns the number of configured tags.
func (r *Registry) Len() int {
	return len(r.tags)
}
