package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/metaline-io/metaline/internal/catalog"
	"github.com/metaline-io/metaline/internal/taxonomy"
)

type (
	// NamespaceResponse is the read-path representation of a namespace.
	NamespaceResponse struct {
		Name        string    `json:"name"`
		Description string    `json:"description,omitempty"`
		Owner       string    `json:"owner,omitempty"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}

	// FieldResponse is one field of a dataset version.
	FieldResponse struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Tags        []string `json:"tags,omitempty"`
		Description string   `json:"description,omitempty"`
	}

	// DatasetMetaResponse is the dataset content of a version record.
	DatasetMetaResponse struct {
		Source       string          `json:"source"`
		PhysicalName string          `json:"physicalName"`
		Description  string          `json:"description,omitempty"`
		Tags         []string        `json:"tags,omitempty"`
		Fields       []FieldResponse `json:"fields,omitempty"`
	}

	// DatasetRefResponse references a dataset by identity.
	DatasetRefResponse struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
	}

	// JobMetaResponse is the job content of a version record.
	JobMetaResponse struct {
		Type        string               `json:"type"`
		Location    string               `json:"location"`
		Description string               `json:"description,omitempty"`
		Tags        []string             `json:"tags,omitempty"`
		Inputs      []DatasetRefResponse `json:"inputs,omitempty"`
		Outputs     []DatasetRefResponse `json:"outputs,omitempty"`
	}

	// VersionResponse is the read-path representation of one version record.
	VersionResponse struct {
		ID          string               `json:"id"`
		Kind        string               `json:"kind"`
		Namespace   string               `json:"namespace"`
		Name        string               `json:"name"`
		Fingerprint string               `json:"fingerprint"`
		Previous    string               `json:"previous,omitempty"`
		Dataset     *DatasetMetaResponse `json:"dataset,omitempty"`
		Job         *JobMetaResponse     `json:"job,omitempty"`
		CreatedAt   time.Time            `json:"createdAt"`
	}

	// VersionListResponse is the version history of one identity, oldest
	// first. Head is the id of the current head version.
	VersionListResponse struct {
		Namespace string            `json:"namespace"`
		Name      string            `json:"name"`
		Kind      string            `json:"kind"`
		Head      string            `json:"head,omitempty"`
		Versions  []VersionResponse `json:"versions"`
	}

	// RunResponse is the read-path representation of a run.
	RunResponse struct {
		ID         string     `json:"id"`
		JobVersion string     `json:"jobVersion"`
		State      string     `json:"state"`
		StartedAt  *time.Time `json:"startedAt,omitempty"`
		EndedAt    *time.Time `json:"endedAt,omitempty"`
		CreatedAt  time.Time  `json:"createdAt"`
		UpdatedAt  time.Time  `json:"updatedAt"`
	}

	// TagResponse is one taxonomy tag.
	TagResponse struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}

	// TagListResponse is the full tag taxonomy.
	TagListResponse struct {
		Tags []TagResponse `json:"tags"`
	}
)

// handleGetNamespace returns one namespace by name.
func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")

	ns, err := s.store.GetNamespace(r.Context(), name)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, NamespaceResponse{
		Name:        ns.Name,
		Description: ns.Description,
		Owner:       ns.Owner,
		CreatedAt:   ns.CreatedAt,
		UpdatedAt:   ns.UpdatedAt,
	})
}

// handleListDatasetVersions returns the full version history of a dataset,
// oldest first.
func (s *Server) handleListDatasetVersions(w http.ResponseWriter, r *http.Request) {
	identity := catalog.DatasetIdentity(r.PathValue("namespace"), r.PathValue("name"))
	s.listVersions(w, r, identity)
}

// handleListJobVersions returns the full version history of a job, oldest
// first.
func (s *Server) handleListJobVersions(w http.ResponseWriter, r *http.Request) {
	identity := catalog.JobIdentity(r.PathValue("namespace"), r.PathValue("name"))
	s.listVersions(w, r, identity)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request, identity catalog.Identity) {
	records, err := s.store.ListVersions(r.Context(), identity)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	if len(records) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No versions declared for "+identity.String()))

		return
	}

	versions := make([]VersionResponse, len(records))
	for i, rec := range records {
		versions[i] = toVersionResponse(rec)
	}

	s.writeJSON(w, r, http.StatusOK, VersionListResponse{
		Namespace: identity.Namespace,
		Name:      identity.Name,
		Kind:      string(identity.Kind),
		Head:      versions[len(versions)-1].ID,
		Versions:  versions,
	})
}

// handleGetVersion returns one version record by its content-addressed id.
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	versionID := r.PathValue("versionId")

	rec, err := s.store.GetVersion(r.Context(), versionID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toVersionResponse(rec))
}

// handleGetRun returns one run by id.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	if run == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("Unknown run "+runID))

		return
	}

	s.writeJSON(w, r, http.StatusOK, RunResponse{
		ID:         run.ID,
		JobVersion: run.JobVersion,
		State:      string(run.State),
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
	})
}

// handleListTags returns the configured tag taxonomy, sorted by name.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags := s.registry.List()

	response := TagListResponse{Tags: make([]TagResponse, len(tags))}
	for i, tag := range tags {
		response.Tags[i] = toTagResponse(tag)
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// handleGetTag returns a single configured tag with its description.
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	tag, ok := s.registry.Get(name)
	if !ok {
		WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("tag %q is not in the configured taxonomy", name)))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toTagResponse(tag))
}

func toTagResponse(tag taxonomy.Tag) TagResponse {
	return TagResponse{Name: tag.Name, Description: tag.Description}
}

func toVersionResponse(rec *catalog.VersionRecord) VersionResponse {
	response := VersionResponse{
		ID:          rec.ID,
		Kind:        string(rec.Identity.Kind),
		Namespace:   rec.Identity.Namespace,
		Name:        rec.Identity.Name,
		Fingerprint: rec.Fingerprint,
		Previous:    rec.Previous,
		CreatedAt:   rec.CreatedAt,
	}

	if rec.Dataset != nil {
		fields := make([]FieldResponse, len(rec.Dataset.Fields))
		for i, f := range rec.Dataset.Fields {
			fields[i] = FieldResponse{Name: f.Name, Type: f.Type, Tags: f.Tags, Description: f.Description}
		}

		response.Dataset = &DatasetMetaResponse{
			Source:       rec.Dataset.SourceName,
			PhysicalName: rec.Dataset.PhysicalName,
			Description:  rec.Dataset.Description,
			Tags:         rec.Dataset.Tags,
			Fields:       fields,
		}
	}

	if rec.Job != nil {
		response.Job = &JobMetaResponse{
			Type:        string(rec.Job.Type),
			Location:    rec.Job.Location,
			Description: rec.Job.Description,
			Tags:        rec.Job.Tags,
			Inputs:      toDatasetRefResponses(rec.Job.Inputs),
			Outputs:     toDatasetRefResponses(rec.Job.Outputs),
		}
	}

	return response
}

func toDatasetRefResponses(refs []catalog.DatasetRef) []DatasetRefResponse {
	out := make([]DatasetRefResponse, len(refs))
	for i, ref := range refs {
		out[i] = DatasetRefResponse{Namespace: ref.Namespace, Name: ref.Name}
	}

	return out
}
