package dispatch

import (
	"errors"
	"fmt"

	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/internal/recordstore"
	"github.com/hyperjump/reqai/internal/schema"
	"github.com/hyperjump/reqai/internal/search"
)

var (
	// ErrUnknownCommand is returned for a command name the dispatcher does not route.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingEntityType is returned when a command needs an entity type and has none.
	ErrMissingEntityType = errors.New("entity type is required")
	// ErrMissingID is returned when a command needs a record id and has none.
	ErrMissingID = errors.New("id is required")
	// ErrNotSearchable is returned when search targets a type without an index.
	ErrNotSearchable = errors.New("entity type is not searchable")
)

// StatusMessage turns any error raised while serving a command into the
// message shown to the user.
func StatusMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		storeErr *recordstore.StoreError
		parseErr *schema.ParseError
	)
	switch {
	case errors.As(err, &storeErr):
		return storeErr.Message
	case errors.As(err, &parseErr):
		return fmt.Sprintf("Invalid value for %s: %v", parseErr.Field, parseErr.Err)
	case errors.Is(err, indexer.ErrIndexBusy):
		return "Indexing is already in progress. Try again when it finishes."
	case errors.Is(err, embedding.ErrProviderInit):
		return "Semantic search is unavailable: the embedding model could not be loaded."
	case errors.Is(err, search.ErrSearchUnavailable):
		return "Search is not available yet: the index is still being built."
	case errors.Is(err, search.ErrEmptyQuery):
		return "Enter a search query."
	case errors.Is(err, indexer.ErrSuperseded):
		return "The collection changed while indexing. The index will be rebuilt."
	default:
		return err.Error()
	}
}
