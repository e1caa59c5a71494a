package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PartyID is a typed ID for parties (customers and suppliers)
type PartyID struct {
	uuid uuid.UUID
}

func NewPartyID() PartyID {
	return PartyID{uuid: uuid.New()}
}

func ParsePartyID(s string) (PartyID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PartyID{}, fmt.Errorf("invalid party ID: %w", err)
	}
	return PartyID{uuid: id}, nil
}

func (p PartyID) UUID() uuid.UUID { return p.uuid }
func (p PartyID) String() string  { return p.uuid.String() }
func (p PartyID) IsZero() bool    { return p.uuid == uuid.Nil }

func (p PartyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.uuid.String())
}

func (p *PartyID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &p.uuid)
}

func (p PartyID) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	return p.uuid.String(), nil
}

func (p *PartyID) Scan(value any) error {
	return scanUUID(value, &p.uuid)
}

func (PartyID) GormDataType() string { return "uuid" }

// CategoryID is a typed ID for product categories
type CategoryID struct {
	uuid uuid.UUID
}

func NewCategoryID() CategoryID {
	return CategoryID{uuid: uuid.New()}
}

func ParseCategoryID(s string) (CategoryID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CategoryID{}, fmt.Errorf("invalid category ID: %w", err)
	}
	return CategoryID{uuid: id}, nil
}

func (c CategoryID) UUID() uuid.UUID { return c.uuid }
func (c CategoryID) String() string  { return c.uuid.String() }
func (c CategoryID) IsZero() bool    { return c.uuid == uuid.Nil }

func (c CategoryID) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.uuid.String())
}

func (c *CategoryID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &c.uuid)
}

func (c CategoryID) Value() (driver.Value, error) {
	if c.IsZero() {
		return nil, nil
	}
	return c.uuid.String(), nil
}

func (c *CategoryID) Scan(value any) error {
	return scanUUID(value, &c.uuid)
}

func (CategoryID) GormDataType() string { return "uuid" }

// UnitID is a typed ID for measurement units
type UnitID struct {
	uuid uuid.UUID
}

func NewUnitID() UnitID {
	return UnitID{uuid: uuid.New()}
}

func ParseUnitID(s string) (UnitID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UnitID{}, fmt.Errorf("invalid unit ID: %w", err)
	}
	return UnitID{uuid: id}, nil
}

func (u UnitID) UUID() uuid.UUID { return u.uuid }
func (u UnitID) String() string  { return u.uuid.String() }
func (u UnitID) IsZero() bool    { return u.uuid == uuid.Nil }

func (u UnitID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.uuid.String())
}

func (u *UnitID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &u.uuid)
}

func (u UnitID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.uuid.String(), nil
}

func (u *UnitID) Scan(value any) error {
	return scanUUID(value, &u.uuid)
}

func (UnitID) GormDataType() string { return "uuid" }

// ProductID is a typed ID for products
type ProductID struct {
	uuid uuid.UUID
}

func NewProductID() ProductID {
	return ProductID{uuid: uuid.New()}
}

func ParseProductID(s string) (ProductID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ProductID{}, fmt.Errorf("invalid product ID: %w", err)
	}
	return ProductID{uuid: id}, nil
}

func (p ProductID) UUID() uuid.UUID { return p.uuid }
func (p ProductID) String() string  { return p.uuid.String() }
func (p ProductID) IsZero() bool    { return p.uuid == uuid.Nil }

func (p ProductID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.uuid.String())
}

func (p *ProductID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &p.uuid)
}

func (p ProductID) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	return p.uuid.String(), nil
}

func (p *ProductID) Scan(value any) error {
	return scanUUID(value, &p.uuid)
}

func (ProductID) GormDataType() string { return "uuid" }

// PriceListID is a typed ID for price lists
type PriceListID struct {
	uuid uuid.UUID
}

func NewPriceListID() PriceListID {
	return PriceListID{uuid: uuid.New()}
}

func ParsePriceListID(s string) (PriceListID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PriceListID{}, fmt.Errorf("invalid price list ID: %w", err)
	}
	return PriceListID{uuid: id}, nil
}

func (p PriceListID) UUID() uuid.UUID { return p.uuid }
func (p PriceListID) String() string  { return p.uuid.String() }
func (p PriceListID) IsZero() bool    { return p.uuid == uuid.Nil }

func (p PriceListID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.uuid.String())
}

func (p *PriceListID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &p.uuid)
}

func (p PriceListID) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	return p.uuid.String(), nil
}

func (p *PriceListID) Scan(value any) error {
	return scanUUID(value, &p.uuid)
}

func (PriceListID) GormDataType() string { return "uuid" }

// CreditAccountID is a typed ID for credit accounts
type CreditAccountID struct {
	uuid uuid.UUID
}

func NewCreditAccountID() CreditAccountID {
	return CreditAccountID{uuid: uuid.New()}
}

func ParseCreditAccountID(s string) (CreditAccountID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CreditAccountID{}, fmt.Errorf("invalid credit account ID: %w", err)
	}
	return CreditAccountID{uuid: id}, nil
}

func (c CreditAccountID) UUID() uuid.UUID { return c.uuid }
func (c CreditAccountID) String() string  { return c.uuid.String() }
func (c CreditAccountID) IsZero() bool    { return c.uuid == uuid.Nil }

func (c CreditAccountID) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.uuid.String())
}

func (c *CreditAccountID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &c.uuid)
}

func (c CreditAccountID) Value() (driver.Value, error) {
	if c.IsZero() {
		return nil, nil
	}
	return c.uuid.String(), nil
}

func (c *CreditAccountID) Scan(value any) error {
	return scanUUID(value, &c.uuid)
}

func (CreditAccountID) GormDataType() string { return "uuid" }

// OrderID is a typed ID for sales orders
type OrderID struct {
	uuid uuid.UUID
}

func NewOrderID() OrderID {
	return OrderID{uuid: uuid.New()}
}

func ParseOrderID(s string) (OrderID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return OrderID{}, fmt.Errorf("invalid order ID: %w", err)
	}
	return OrderID{uuid: id}, nil
}

func (o OrderID) UUID() uuid.UUID { return o.uuid }
func (o OrderID) String() string  { return o.uuid.String() }
func (o OrderID) IsZero() bool    { return o.uuid == uuid.Nil }

func (o OrderID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.uuid.String())
}

func (o *OrderID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &o.uuid)
}

func (o OrderID) Value() (driver.Value, error) {
	if o.IsZero() {
		return nil, nil
	}
	return o.uuid.String(), nil
}

func (o *OrderID) Scan(value any) error {
	return scanUUID(value, &o.uuid)
}

func (OrderID) GormDataType() string { return "uuid" }

// OrderLineID is a typed ID for order lines
type OrderLineID struct {
	uuid uuid.UUID
}

func NewOrderLineID() OrderLineID {
	return OrderLineID{uuid: uuid.New()}
}

func ParseOrderLineID(s string) (OrderLineID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return OrderLineID{}, fmt.Errorf("invalid order line ID: %w", err)
	}
	return OrderLineID{uuid: id}, nil
}

func (o OrderLineID) UUID() uuid.UUID { return o.uuid }
func (o OrderLineID) String() string  { return o.uuid.String() }
func (o OrderLineID) IsZero() bool    { return o.uuid == uuid.Nil }

func (o OrderLineID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.uuid.String())
}

func (o *OrderLineID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &o.uuid)
}

func (o OrderLineID) Value() (driver.Value, error) {
	if o.IsZero() {
		return nil, nil
	}
	return o.uuid.String(), nil
}

func (o *OrderLineID) Scan(value any) error {
	return scanUUID(value, &o.uuid)
}

func (OrderLineID) GormDataType() string { return "uuid" }

// PaymentID is a typed ID for order payments
type PaymentID struct {
	uuid uuid.UUID
}

func NewPaymentID() PaymentID {
	return PaymentID{uuid: uuid.New()}
}

func ParsePaymentID(s string) (PaymentID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PaymentID{}, fmt.Errorf("invalid payment ID: %w", err)
	}
	return PaymentID{uuid: id}, nil
}

func (p PaymentID) UUID() uuid.UUID { return p.uuid }
func (p PaymentID) String() string  { return p.uuid.String() }
func (p PaymentID) IsZero() bool    { return p.uuid == uuid.Nil }

func (p PaymentID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.uuid.String())
}

func (p *PaymentID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &p.uuid)
}

func (p PaymentID) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	return p.uuid.String(), nil
}

func (p *PaymentID) Scan(value any) error {
	return scanUUID(value, &p.uuid)
}

func (PaymentID) GormDataType() string { return "uuid" }

// InvoiceID is a typed ID for fiscal invoices
type InvoiceID struct {
	uuid uuid.UUID
}

func NewInvoiceID() InvoiceID {
	return InvoiceID{uuid: uuid.New()}
}

func ParseInvoiceID(s string) (InvoiceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return InvoiceID{}, fmt.Errorf("invalid invoice ID: %w", err)
	}
	return InvoiceID{uuid: id}, nil
}

func (i InvoiceID) UUID() uuid.UUID { return i.uuid }
func (i InvoiceID) String() string  { return i.uuid.String() }
func (i InvoiceID) IsZero() bool    { return i.uuid == uuid.Nil }

func (i InvoiceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.uuid.String())
}

func (i *InvoiceID) UnmarshalJSON(data []byte) error {
	return unmarshalUUIDJSON(data, &i.uuid)
}

func (i InvoiceID) Value() (driver.Value, error) {
	if i.IsZero() {
		return nil, nil
	}
	return i.uuid.String(), nil
}

func (i *InvoiceID) Scan(value any) error {
	return scanUUID(value, &i.uuid)
}

func (InvoiceID) GormDataType() string { return "uuid" }

// Helper functions

// scanUUID is a helper for implementing sql.Scanner for gorm-backed stores
func scanUUID(value any, target *uuid.UUID) error {
	if value == nil {
		*target = uuid.Nil
		return nil
	}

	switch v := value.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		*target = id
	case []byte:
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		*target = id
	default:
		return fmt.Errorf("cannot scan type %T into UUID", value)
	}
	return nil
}

// unmarshalUUIDJSON is a helper for unmarshaling typed IDs from their JSON
// string form
func unmarshalUUIDJSON(data []byte, target *uuid.UUID) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*target = id
	return nil
}
