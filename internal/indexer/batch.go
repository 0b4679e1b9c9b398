package indexer

import "github.com/hyperjump/reqai/internal/models"

// Batches splits records into consecutive slices of at most size records.
func Batches(records []*models.Entity, size int) [][]*models.Entity {
	if size <= 0 {
		size = 1
	}
	if len(records) == 0 {
		return nil
	}
	out := make([][]*models.Entity, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[i:end])
	}
	return out
}
