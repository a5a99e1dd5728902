package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	CategoryProduce   = "produce"
	CategoryDairy     = "dairy"
	CategoryProtein   = "protein"
	CategoryGrain     = "grain"
	CategoryCondiment = "condiment"
	CategoryBeverage  = "beverage"
	CategoryOther     = "other"
)

// ProductCategories lists every category the categorizer may assign,
// in display order.
var ProductCategories = []string{
	CategoryProduce,
	CategoryDairy,
	CategoryProtein,
	CategoryGrain,
	CategoryCondiment,
	CategoryBeverage,
	CategoryOther,
}

// ValidCategory reports whether c is a known product category.
func ValidCategory(c string) bool {
	for _, known := range ProductCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Product is one canonical catalog entry. Name is the normalized form
// ("whole milk", never "Whole-Milks"), unique across the catalog. Category
// and Unit stay null until the categorizer fills them in.
type Product struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Category  *string   `db:"category"   json:"category,omitempty"`
	Unit      *string   `db:"unit"       json:"unit,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Item records that a snapshot contained a product. At most one item per
// (snapshot, product) pair; repeated detections coalesce before insert.
// RawPayload keeps the model's original value fragment for the product.
type Item struct {
	ID         uuid.UUID       `db:"id"          json:"id"`
	SnapshotID uuid.UUID       `db:"snapshot_id" json:"snapshot_id"`
	ProductID  uuid.UUID       `db:"product_id"  json:"product_id"`
	Quantity   int             `db:"quantity"    json:"quantity"`
	RawPayload json.RawMessage `db:"raw_payload" json:"raw_payload,omitempty"`
	CreatedAt  time.Time       `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"  json:"updated_at"`
}

// InventoryEntry is one line of a snapshot's contents joined with its
// catalog product.
type InventoryEntry struct {
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
	Name      string    `db:"name"       json:"name"`
	Category  *string   `db:"category"   json:"category,omitempty"`
	Unit      *string   `db:"unit"       json:"unit,omitempty"`
	Quantity  int       `db:"quantity"   json:"quantity"`
}

// CategoryCount aggregates a snapshot's items by product category.
type CategoryCount struct {
	Category string `db:"category" json:"category"`
	Quantity int    `db:"quantity" json:"quantity"`
}
