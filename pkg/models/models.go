package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// OrderStatus represents the lifecycle state of a sales order aggregate.
// Allowed transitions: draft → paid → invoiced (terminal); cancelled is
// reachable from draft and paid.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusInvoiced  OrderStatus = "invoiced"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// JSONMap is a flexible key-value map used for serialized entity snapshots.
// It stores as JSON text under sqlite and as JSONB under Postgres, which
// keeps the outbox payload queryable on the hub side.
type JSONMap map[string]any

// Value implements the driver.Valuer interface for database storage
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for database retrieval
func (j *JSONMap) Scan(value any) error {
	if value == nil {
		*j = make(map[string]any)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		bytes = []byte(value.(string))
	}
	return json.Unmarshal(bytes, j)
}

// Party represents a customer or supplier. TaxID is the natural business
// key used by identity resolution when no cross-system identifier is known.
type Party struct {
	ID        PartyID        `gorm:"type:uuid;primary_key" json:"id"`
	HubID     *string        `gorm:"index" json:"hub_id,omitempty"`
	LegacyID  *string        `gorm:"index" json:"legacy_id,omitempty"`
	Name      string         `gorm:"not null" json:"name"`
	TaxID     string         `gorm:"index" json:"tax_id"`
	Email     string         `json:"email,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate hook to generate ID if not set
func (p *Party) BeforeCreate(tx *gorm.DB) error {
	if p.ID.IsZero() {
		p.ID = NewPartyID()
	}
	return nil
}

// Category represents a product category. Path is the full delimited path
// from the root ("Beverages/Soft Drinks") and doubles as the natural key;
// the bulk migration loader can rebuild a hierarchy from it.
type Category struct {
	ID        CategoryID     `gorm:"type:uuid;primary_key" json:"id"`
	HubID     *string        `gorm:"index" json:"hub_id,omitempty"`
	LegacyID  *string        `gorm:"index" json:"legacy_id,omitempty"`
	Name      string         `gorm:"not null" json:"name"`
	Path      string         `gorm:"index" json:"path"`
	ParentID  *CategoryID    `gorm:"type:uuid" json:"parent_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate hook to generate ID if not set
func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID.IsZero() {
		c.ID = NewCategoryID()
	}
	return nil
}

// Unit represents a unit of measure. Code is the natural key ("EA", "KG").
type Unit struct {
	ID        UnitID         `gorm:"type:uuid;primary_key" json:"id"`
	HubID     *string        `gorm:"index" json:"hub_id,omitempty"`
	LegacyID  *string        `gorm:"index" json:"legacy_id,omitempty"`
	Code      string         `gorm:"index;not null" json:"code"`
	Name      string         `json:"name"`
	Precision int            `json:"precision"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate hook to generate ID if not set
func (u *Unit) BeforeCreate(tx *gorm.DB) error {
	if u.ID.IsZero() {
		u.ID = NewUnitID()
	}
	return nil
}

// Product represents a sellable item. Barcode is the natural key. Category
// and Unit are required relations; the migration loader provides fallbacks
// so they are never left null during provisioning.
type Product struct {
	ID         ProductID      `gorm:"type:uuid;primary_key" json:"id"`
	HubID      *string        `gorm:"index" json:"hub_id,omitempty"`
	LegacyID   *string        `gorm:"index" json:"legacy_id,omitempty"`
	Barcode    string         `gorm:"index" json:"barcode"`
	SKU        string         `json:"sku,omitempty"`
	Name       string         `gorm:"not null" json:"name"`
	CategoryID CategoryID     `gorm:"type:uuid;not null" json:"category_id"`
	Category   *Category      `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	UnitID     UnitID         `gorm:"type:uuid;not null" json:"unit_id"`
	Unit       *Unit          `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
	Price      float64        `json:"price"`
	Active     bool           `gorm:"default:true" json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `gorm:"index" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate hook to generate ID if not set
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID.IsZero() {
		p.ID = NewProductID()
	}
	return nil
}

// PriceList represents a named price book. Code is the natural key.
type PriceList struct {
	ID        PriceListID     `gorm:"type:uuid;primary_key" json:"id"`
	HubID     *string         `gorm:"index" json:"hub_id,omitempty"`
	LegacyID  *string         `gorm:"index" json:"legacy_id,omitempty"`
	Code      string          `gorm:"index;not null" json:"code"`
	Name      string          `json:"name"`
	Currency  string          `json:"currency"`
	Items     []PriceListItem `gorm:"foreignKey:PriceListID" json:"items,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `gorm:"index" json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate hook to generate ID if not set
func (p *PriceList) BeforeCreate(tx *gorm.DB) error {
	if p.ID.IsZero() {
		p.ID = NewPriceListID()
	}
	return nil
}

// PriceListItem is a per-product price override within a price list.
type PriceListItem struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PriceListID PriceListID `gorm:"type:uuid;not null;index" json:"price_list_id"`
	ProductID   ProductID   `gorm:"type:uuid;not null;index" json:"product_id"`
	Product     *Product    `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Price       float64     `json:"price"`
}

// CreditAccount is a reconciled counter: Balance is decremented by local
// sales on credit and independently topped up by administrative edits at
// the hub. CreditLimit has a single writer (the hub) and is always accepted
// from incoming updates.
type CreditAccount struct {
	ID          CreditAccountID `gorm:"type:uuid;primary_key" json:"id"`
	HubID       *string         `gorm:"index" json:"hub_id,omitempty"`
	PartyID     PartyID         `gorm:"type:uuid;not null;uniqueIndex" json:"party_id"`
	Party       *Party          `gorm:"foreignKey:PartyID" json:"party,omitempty"`
	Balance     float64         `json:"balance"`
	CreditLimit float64         `json:"credit_limit"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `gorm:"index" json:"updated_at"`
}

// BeforeCreate hook to generate ID if not set
func (c *CreditAccount) BeforeCreate(tx *gorm.DB) error {
	if c.ID.IsZero() {
		c.ID = NewCreditAccountID()
	}
	return nil
}

// SalesOrder is the order aggregate root. Reference is the cross-node
// reference string: unique, human-meaningful, and the idempotency key for
// the whole aggregate across systems.
type SalesOrder struct {
	ID        OrderID        `gorm:"type:uuid;primary_key" json:"id"`
	HubID     *string        `gorm:"index" json:"hub_id,omitempty"`
	Reference string         `gorm:"uniqueIndex;not null" json:"reference"`
	PartyID   PartyID        `gorm:"type:uuid;not null" json:"party_id"`
	Party     *Party         `gorm:"foreignKey:PartyID" json:"party,omitempty"`
	Status    OrderStatus    `gorm:"not null;default:draft" json:"status"`
	Total     float64        `json:"total"`
	Lines     []OrderLine    `gorm:"foreignKey:OrderID" json:"lines,omitempty"`
	Payments  []Payment      `gorm:"foreignKey:OrderID" json:"payments,omitempty"`
	Invoice   *Invoice       `gorm:"foreignKey:OrderID" json:"invoice,omitempty"`
	PlacedAt  time.Time      `json:"placed_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate hook to generate ID if not set
func (o *SalesOrder) BeforeCreate(tx *gorm.DB) error {
	if o.ID.IsZero() {
		o.ID = NewOrderID()
	}
	return nil
}

// PaidAmount returns the sum of payments attached to the aggregate.
func (o *SalesOrder) PaidAmount() float64 {
	var paid float64
	for _, p := range o.Payments {
		paid += p.Amount
	}
	return paid
}

// OrderLine is an owned line item of a sales order.
type OrderLine struct {
	ID        OrderLineID `gorm:"type:uuid;primary_key" json:"id"`
	OrderID   OrderID     `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID ProductID   `gorm:"type:uuid;not null" json:"product_id"`
	Product   *Product    `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Quantity  float64     `json:"quantity"`
	UnitPrice float64     `json:"unit_price"`
	LineTotal float64     `json:"line_total"`
}

// BeforeCreate hook to generate ID if not set
func (l *OrderLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID.IsZero() {
		l.ID = NewOrderLineID()
	}
	return nil
}

// Payment is an owned payment of a sales order. Method plus Amount is the
// idempotency key for payment application during replication.
type Payment struct {
	ID       PaymentID `gorm:"type:uuid;primary_key" json:"id"`
	OrderID  OrderID   `gorm:"type:uuid;not null;index" json:"order_id"`
	Method   string    `gorm:"not null" json:"method"`
	Amount   float64   `json:"amount"`
	AuthCode string    `json:"auth_code,omitempty"`
	PaidAt   time.Time `json:"paid_at"`
}

// BeforeCreate hook to generate ID if not set
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID.IsZero() {
		p.ID = NewPaymentID()
	}
	return nil
}

// Invoice is the optional fiscal document owned by a sales order.
// FiscalToken is the externally issued authorization token; when the order
// arrives with one it must be stored verbatim, never re-minted. Number
// follows the local numbering scheme regardless of the token's origin.
type Invoice struct {
	ID          InvoiceID `gorm:"type:uuid;primary_key" json:"id"`
	OrderID     OrderID   `gorm:"type:uuid;not null;uniqueIndex" json:"order_id"`
	Number      string    `gorm:"not null" json:"number"`
	FiscalToken string    `gorm:"index" json:"fiscal_token"`
	IssuedAt    time.Time `json:"issued_at"`
}

// BeforeCreate hook to generate ID if not set
func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID.IsZero() {
		i.ID = NewInvoiceID()
	}
	return nil
}

// Tombstone marks a hub-side deletion for propagation. Tombstones are
// global: every subscribed node applies them regardless of which node's
// pull window produced the query.
type Tombstone struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType string    `gorm:"not null;index:idx_tombstone_entity_time" json:"entity_type"`
	RemoteID   string    `gorm:"not null" json:"remote_id"`
	DeletedAt  time.Time `gorm:"not null;index:idx_tombstone_entity_time" json:"deleted_at"`
}
