package dispatch

import (
	"github.com/hyperjump/reqai/internal/filter"
	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/internal/schema"
)

// Command names.
const (
	CmdListTypes   = "list_types"
	CmdList        = "list"
	CmdForm        = "form"
	CmdCreate      = "create"
	CmdUpdate      = "update"
	CmdDelete      = "delete"
	CmdFilter      = "filter"
	CmdClearFilter = "clear_filter"
	CmdFacets      = "facets"
	CmdSearch      = "search"
	CmdClearSearch = "clear_search"
	CmdReindex     = "reindex"
	CmdIndexStatus = "index_status"
	CmdExport      = "export"
)

// Command is one user intent emitted by a render surface.
type Command struct {
	Name       string                 `json:"command"`
	EntityType string                 `json:"entity_type,omitempty"`
	ID         string                 `json:"id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Result is the render model answering a Command. A failed command has OK
// false, a user-visible Message and the underlying error in Err.
type Result struct {
	// RequestID correlates the result with the dispatcher's log lines.
	RequestID  string                 `json:"request_id,omitempty"`
	Command    string                 `json:"command"`
	EntityType string                 `json:"entity_type,omitempty"`
	OK         bool                   `json:"ok"`
	Message    string                 `json:"message,omitempty"`
	Types      []string               `json:"types,omitempty"`
	Table      *schema.Table          `json:"table,omitempty"`
	Form       *schema.Form           `json:"form,omitempty"`
	Entity     *models.Entity         `json:"entity,omitempty"`
	Filter     *models.FilterState    `json:"filter,omitempty"`
	Facets     *filter.Facets         `json:"facets,omitempty"`
	Search     *models.SearchResponse `json:"search,omitempty"`
	Index      *indexer.Status        `json:"index,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
	// Location is where the render surface navigates for an export.
	Location string `json:"location,omitempty"`
	Err      error  `json:"-"`
}

func payloadString(p map[string]interface{}, key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", ok
	}
	s, isString := v.(string)
	if !isString {
		return "", true
	}
	return s, true
}
