package reversemapper

import (
	"github.com/himanishpuri/ReverseMapper/internal/storage"
)

// NewSQLiteStorage opens the generation history at dbPath.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}
