package domain

// ConflictStrategy controls what happens when an item with the same name
// already exists in the target collection.
type ConflictStrategy string

const (
	ConflictSkip      ConflictStrategy = "skip"
	ConflictOverwrite ConflictStrategy = "overwrite"
	ConflictRename    ConflictStrategy = "rename"
)

// ItemStatus records the outcome of importing a single item.
type ItemStatus string

const (
	StatusCreated ItemStatus = "created"
	StatusUpdated ItemStatus = "updated"
	StatusSkipped ItemStatus = "skipped"
	StatusFailed  ItemStatus = "failed"
)

// EntityType identifies the kind of content item being migrated.
type EntityType string

const (
	EntityCollection EntityType = "collection"
	EntityCard       EntityType = "card"
	EntityDashboard  EntityType = "dashboard"
)
