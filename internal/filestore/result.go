package filestore

import (
	"fmt"

	"github.com/filestore/backend/internal/models"
)

const (
	msgUploaded   = "Files uploaded successfully"
	msgPartial    = "Some files could not be uploaded"
	msgNoneStored = "No files were uploaded"
)

// Merge partitions results into a Store. With single set, the only
// successful result goes to Store.File instead of Store.Files.
func Merge(results []*models.FileResult, single bool) *models.Store {
	store := models.NewStore()

	for _, res := range results {
		if res == nil {
			continue
		}
		if !res.Status {
			store.Failed[res.FieldName] = append(store.Failed[res.FieldName], res)
			continue
		}
		if single && store.File == nil {
			store.File = res
			continue
		}
		store.Files[res.FieldName] = append(store.Files[res.FieldName], res)
	}

	stored, failed := store.Len(), store.FailedLen()
	switch {
	case stored+failed == 0:
		store.Status = false
		store.Error = msgNoneStored
		store.Message = msgNoneStored
	case failed == 0:
		store.Message = msgUploaded
	default:
		store.Status = false
		store.Error = msgPartial
		store.Message = fmt.Sprintf("%d of %d files uploaded", stored, stored+failed)
	}
	return store
}
