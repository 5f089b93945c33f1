package media

// Status is the value of a table's transcode status column
type Status string

const (
	StatusNone       Status = ""
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Table describes the shape of one media table the pipeline processes
type Table struct {
	Name             string   `yaml:"name" validate:"required,sqlident"`
	SourceColumn     string   `yaml:"source_column" validate:"required,sqlident"`
	RenditionColumns []string `yaml:"rendition_columns" validate:"required,min=1,dive,sqlident"`
	StatusColumn     string   `yaml:"status_column" validate:"omitempty,sqlident"`
	ClaimedAtColumn  string   `yaml:"claimed_at_column" validate:"omitempty,sqlident"`
}

// HasStatus reports whether the table carries a transcode status column
func (t Table) HasStatus() bool {
	return t.StatusColumn != ""
}

// HasRendition reports whether column is one of the table's rendition columns
func (t Table) HasRendition(column string) bool {
	for _, c := range t.RenditionColumns {
		if c == column {
			return true
		}
	}
	return false
}

// Columns returns every column the pipeline reads from the table
func (t Table) Columns() []string {
	cols := []string{"id", t.SourceColumn}
	cols = append(cols, t.RenditionColumns...)
	if t.StatusColumn != "" {
		cols = append(cols, t.StatusColumn)
	}
	return cols
}

// Record is one media row as seen by the pipeline
type Record struct {
	Table       string            `json:"table"`
	ID          string            `json:"id"`
	OriginalURL string            `json:"original_url"`
	Renditions  map[string]string `json:"renditions,omitempty"`
	Status      Status            `json:"transcode_status,omitempty"`
}

// HasRendition reports whether any rendition column already holds a value
func (r *Record) HasRendition() bool {
	for _, v := range r.Renditions {
		if v != "" {
			return true
		}
	}
	return false
}

// Eligible applies the eligibility rule: a source URL, no rendition yet,
// and a status that still allows processing.
func (r *Record) Eligible(allowed []Status) bool {
	if r.OriginalURL == "" || r.HasRendition() {
		return false
	}
	for _, s := range allowed {
		if r.Status == s {
			return true
		}
	}
	return false
}
