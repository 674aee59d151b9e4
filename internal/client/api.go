package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Database is one configured data warehouse connection.
type Database struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Engine string `json:"engine"`
}

// DatabaseMetadata is the full schema of one database.
type DatabaseMetadata struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Tables []Table `json:"tables"`
}

// Table is one table within a database's metadata.
type Table struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Schema string  `json:"schema"`
	Fields []Field `json:"fields"`
}

// Field is one column within a table's metadata.
type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	BaseType string `json:"base_type"`
}

// CollectionID tolerates the API's habit of using the string "root" for the
// root collection; it decodes to 0.
type CollectionID int

func (id *CollectionID) UnmarshalJSON(data []byte) error {
	if string(data) == `"root"` || string(data) == "null" {
		*id = 0
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("collection id %s: %w", data, err)
	}
	*id = CollectionID(n)
	return nil
}

// Collection is one content folder.
type Collection struct {
	ID          CollectionID `json:"id"`
	Name        string       `json:"name"`
	Slug        string       `json:"slug"`
	Description string       `json:"description"`
	// Location is the ancestor path, e.g. "/5/12/".
	Location string `json:"location"`
	Archived bool   `json:"archived"`
}

// ParentID derives the immediate parent from Location. Returns 0 for
// top-level collections.
func (c *Collection) ParentID() int {
	trimmed := strings.Trim(c.Location, "/")
	if trimmed == "" {
		return 0
	}
	parts := strings.Split(trimmed, "/")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return id
}

// CollectionItem is one entry in a collection listing.
type CollectionItem struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// listResponse is the {"data": [...]} wrapper newer API versions use.
type listResponse[T any] struct {
	Data []T `json:"data"`
}

// decodeList handles both the wrapped and the bare-array response shapes.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped listResponse[T]
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Data, nil
}

// ListDatabases returns all database connections visible to the caller.
func (c *Client) ListDatabases(ctx context.Context) ([]Database, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/database", nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	dbs, err := decodeList[Database](raw)
	if err != nil {
		return nil, fmt.Errorf("decode database list: %w", err)
	}
	return dbs, nil
}

// GetDatabaseMetadata returns the tables and fields of one database.
func (c *Client) GetDatabaseMetadata(ctx context.Context, id int) (*DatabaseMetadata, error) {
	var meta DatabaseMetadata
	path := fmt.Sprintf("/api/database/%d/metadata", id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &meta); err != nil {
		return nil, fmt.Errorf("database %d metadata: %w", id, err)
	}
	return &meta, nil
}

// ListCollections returns all collections, including archived ones.
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	query := url.Values{"archived": {"true"}}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/collection", query, nil, &raw); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	cols, err := decodeList[Collection](raw)
	if err != nil {
		return nil, fmt.Errorf("decode collection list: %w", err)
	}
	return cols, nil
}

// ListCollectionItems returns the cards or dashboards directly inside a
// collection. models filters by item type, e.g. "card", "dashboard".
func (c *Client) ListCollectionItems(ctx context.Context, collectionID int, models ...string) ([]CollectionItem, error) {
	query := url.Values{}
	for _, m := range models {
		query.Add("models", m)
	}
	path := fmt.Sprintf("/api/collection/%d/items", collectionID)
	if collectionID == 0 {
		path = "/api/collection/root/items"
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, query, nil, &raw); err != nil {
		return nil, fmt.Errorf("collection %d items: %w", collectionID, err)
	}
	items, err := decodeList[CollectionItem](raw)
	if err != nil {
		return nil, fmt.Errorf("decode collection %d items: %w", collectionID, err)
	}
	return items, nil
}

// CreateCollection creates a collection and returns its new ID.
func (c *Client) CreateCollection(ctx context.Context, payload map[string]any) (int, error) {
	var created struct {
		ID CollectionID `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/collection", nil, payload, &created); err != nil {
		return 0, fmt.Errorf("create collection: %w", err)
	}
	return int(created.ID), nil
}

// GetCard fetches a card's raw payload.
func (c *Client) GetCard(ctx context.Context, id int) (map[string]any, error) {
	var card map[string]any
	path := fmt.Sprintf("/api/card/%d", id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &card); err != nil {
		return nil, fmt.Errorf("get card %d: %w", id, err)
	}
	return card, nil
}

// CreateCard creates a card and returns the server's view of it.
func (c *Client) CreateCard(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var created map[string]any
	if err := c.do(ctx, http.MethodPost, "/api/card", nil, payload, &created); err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	return created, nil
}

// UpdateCard replaces a card's content in place.
func (c *Client) UpdateCard(ctx context.Context, id int, payload map[string]any) (map[string]any, error) {
	var updated map[string]any
	path := fmt.Sprintf("/api/card/%d", id)
	if err := c.do(ctx, http.MethodPut, path, nil, payload, &updated); err != nil {
		return nil, fmt.Errorf("update card %d: %w", id, err)
	}
	return updated, nil
}

// GetDashboard fetches a dashboard's raw payload, including dashcards.
func (c *Client) GetDashboard(ctx context.Context, id int) (map[string]any, error) {
	var dash map[string]any
	path := fmt.Sprintf("/api/dashboard/%d", id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &dash); err != nil {
		return nil, fmt.Errorf("get dashboard %d: %w", id, err)
	}
	return dash, nil
}

// CreateDashboard creates an empty dashboard and returns the server's view.
func (c *Client) CreateDashboard(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var created map[string]any
	if err := c.do(ctx, http.MethodPost, "/api/dashboard", nil, payload, &created); err != nil {
		return nil, fmt.Errorf("create dashboard: %w", err)
	}
	return created, nil
}

// UpdateDashboard replaces a dashboard's content, including its dashcards.
func (c *Client) UpdateDashboard(ctx context.Context, id int, payload map[string]any) (map[string]any, error) {
	var updated map[string]any
	path := fmt.Sprintf("/api/dashboard/%d", id)
	if err := c.do(ctx, http.MethodPut, path, nil, payload, &updated); err != nil {
		return nil, fmt.Errorf("update dashboard %d: %w", id, err)
	}
	return updated, nil
}
