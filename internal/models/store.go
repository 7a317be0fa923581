package models

// Store is the aggregated response for one upload request.
//
// Every FileResult lands in exactly one place: File (single-file mode), one
// of the Files lists, or one of the Failed lists.
type Store struct {
	File    *FileResult              `json:"file"`
	Files   map[string][]*FileResult `json:"files"`
	Failed  map[string][]*FileResult `json:"failed"`
	Error   string                   `json:"error"`
	Message string                   `json:"message"`
	Status  bool                     `json:"status"`
}

// NewStore returns an empty Store with initialised maps.
func NewStore() *Store {
	return &Store{
		Files:  make(map[string][]*FileResult),
		Failed: make(map[string][]*FileResult),
		Status: true,
	}
}

// Len returns the number of stored files.
func (s *Store) Len() int {
	total := 0
	for _, list := range s.Files {
		total += len(list)
	}
	if s.File != nil {
		total++
	}
	return total
}

// FailedLen returns the number of failed files.
func (s *Store) FailedLen() int {
	total := 0
	for _, list := range s.Failed {
		total += len(list)
	}
	return total
}
