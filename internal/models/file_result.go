package models

// FileResult is the outcome of storing one file.
type FileResult struct {
	Path        string         `json:"path"`
	URL         string         `json:"url"`
	Status      bool           `json:"status"`
	ContentType string         `json:"content_type"`
	Filename    string         `json:"filename"`
	Size        int64          `json:"size"`
	File        []byte         `json:"file,omitempty"` // Set by the memory engine only
	FieldName   string         `json:"field_name"`
	Metadata    map[string]any `json:"metadata"`
	Error       string         `json:"error"`
	Message     string         `json:"message"`

	// Storage is the name of the engine that produced the result.
	Storage string `json:"-"`
}

// Location returns the path or URL the file was written to.
func (r *FileResult) Location() string {
	if r.URL != "" {
		return r.URL
	}
	return r.Path
}

// FailedResult builds a failure record for a file.
func FailedResult(field string, file *FileInput, err error) *FileResult {
	res := &FileResult{
		Status:    false,
		FieldName: field,
		Metadata:  map[string]any{},
		Error:     err.Error(),
	}
	if kind := KindOf(err); kind != "" {
		res.Metadata["kind"] = string(kind)
	}
	if file != nil {
		res.Filename = file.Filename
		res.ContentType = file.ContentType
		res.Size = file.Size
		res.Message = "Unable to upload " + file.Filename
	} else {
		res.Message = "Unable to upload " + field
	}
	return res
}
