// Package workflow implements the multi-step, idempotent creation of a
// sales order aggregate: header and lines, then payments, then the
// optional fiscal invoice.
//
// The aggregate's cross-node reference is the idempotency key. Replaying
// an inbound order with a reference that already exists never creates a
// second aggregate: the engine classifies what the existing aggregate is
// missing and completes only that, or returns it untouched.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// LinePayload is one order line on the wire.
type LinePayload struct {
	ProductBarcode string  `json:"product_barcode,omitempty"`
	ProductID      string  `json:"product_id,omitempty"`
	Quantity       float64 `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	LineTotal      float64 `json:"line_total"`
}

// PaymentPayload is one payment on the wire. Method plus amount identifies
// a payment across replays; auth code and paid-at are auxiliary.
type PaymentPayload struct {
	Method   string  `json:"method"`
	Amount   float64 `json:"amount"`
	AuthCode string  `json:"auth_code,omitempty"`
	PaidAt   string  `json:"paid_at,omitempty"`
}

// OrderPayload is the explicit schema of an order record on the wire.
type OrderPayload struct {
	Reference   string           `json:"reference"`
	PartyTaxID  string           `json:"party_tax_id,omitempty"`
	PartyHubID  string           `json:"party_hub_id,omitempty"`
	Status      string           `json:"status,omitempty"`
	Total       float64          `json:"total"`
	PlacedAt    string           `json:"placed_at,omitempty"`
	Lines       []LinePayload    `json:"lines,omitempty"`
	Payments    []PaymentPayload `json:"payments,omitempty"`
	FiscalToken string           `json:"fiscal_token,omitempty"`
}

// Engine drives the order aggregate state machine.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log}
}

// ApplyOrder applies one inbound order record idempotently and returns the
// aggregate's local ID.
//
// An existing aggregate for the payload's reference is completed in place:
// missing lines, missing payments, a pending paid transition, or a missing
// invoice. A fresh aggregate goes through the full sequence. Invoice
// creation failure is logged and the order stays paid; it is never fatal
// to the cycle.
func (e *Engine) ApplyOrder(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	var payload OrderPayload
	if err := rec.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Reference == "" {
		return "", fmt.Errorf("order record without a reference")
	}

	existing, err := s.GetOrderByReference(ctx, payload.Reference)
	if err != nil {
		return "", fmt.Errorf("lookup order %q: %w", payload.Reference, err)
	}
	if existing != nil {
		if err := e.completeAggregate(ctx, s, existing, payload); err != nil {
			return "", err
		}
		return existing.ID.String(), nil
	}

	order, err := e.createAggregate(ctx, s, payload, rec.RemoteID)
	if err != nil {
		return "", err
	}
	return order.ID.String(), nil
}

// createAggregate runs the full sequence for a reference seen for the
// first time. Header and lines commit atomically; payment application and
// the paid transition follow; the invoice step is last and non-fatal.
func (e *Engine) createAggregate(ctx context.Context, s *store.Store, payload OrderPayload, remoteID string) (*models.SalesOrder, error) {
	partyID, err := e.resolveParty(ctx, s, payload)
	if err != nil {
		return nil, err
	}

	order := &models.SalesOrder{
		Reference: payload.Reference,
		PartyID:   partyID,
		Status:    models.OrderStatusDraft,
		Total:     payload.Total,
		PlacedAt:  parseTimeOrNow(payload.PlacedAt),
	}
	if remoteID != "" {
		order.HubID = &remoteID
	}

	err = s.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.DB(ctx).Create(order).Error; err != nil {
			return fmt.Errorf("create order %q: %w", payload.Reference, err)
		}
		return e.createLines(ctx, tx, order, payload.Lines)
	})
	if err != nil {
		return nil, err
	}

	if err := e.applyPayments(ctx, s, order, payload.Payments); err != nil {
		return nil, err
	}
	if err := e.settle(ctx, s, order, payload); err != nil {
		return nil, err
	}
	return order, nil
}

// completeAggregate classifies an existing aggregate and fills in only
// what the replayed payload adds. An already-complete aggregate is
// returned untouched.
func (e *Engine) completeAggregate(ctx context.Context, s *store.Store, order *models.SalesOrder, payload OrderPayload) error {
	if order.Status == models.OrderStatusCancelled {
		// Terminal for replication purposes; replays cannot resurrect it.
		return nil
	}
	if payload.Status == string(models.OrderStatusCancelled) {
		return e.cancel(ctx, s, order)
	}

	if len(order.Lines) == 0 && len(payload.Lines) > 0 {
		err := s.Transaction(ctx, func(tx *store.Store) error {
			return e.createLines(ctx, tx, order, payload.Lines)
		})
		if err != nil {
			return err
		}
	}
	if err := e.applyPayments(ctx, s, order, payload.Payments); err != nil {
		return err
	}
	return e.settle(ctx, s, order, payload)
}

func (e *Engine) createLines(ctx context.Context, tx *store.Store, order *models.SalesOrder, lines []LinePayload) error {
	for i, lp := range lines {
		productID, err := e.resolveProduct(ctx, tx, lp)
		if err != nil {
			return fmt.Errorf("order %q line %d: %w", order.Reference, i, err)
		}
		line := models.OrderLine{
			OrderID:   order.ID,
			ProductID: productID,
			Quantity:  lp.Quantity,
			UnitPrice: lp.UnitPrice,
			LineTotal: lp.LineTotal,
		}
		if line.LineTotal == 0 {
			line.LineTotal = lp.Quantity * lp.UnitPrice
		}
		if err := tx.DB(ctx).Create(&line).Error; err != nil {
			return fmt.Errorf("create line for order %q: %w", order.Reference, err)
		}
		order.Lines = append(order.Lines, line)
	}
	return nil
}

// applyPayments is individually idempotent: a payment matching an existing
// one by method and amount only updates missing auxiliary fields instead
// of creating a second payment record.
func (e *Engine) applyPayments(ctx context.Context, s *store.Store, order *models.SalesOrder, payments []PaymentPayload) error {
	for _, pp := range payments {
		matched := false
		for i := range order.Payments {
			p := &order.Payments[i]
			if p.Method == pp.Method && amountsEqual(p.Amount, pp.Amount) {
				matched = true
				if p.AuthCode == "" && pp.AuthCode != "" {
					p.AuthCode = pp.AuthCode
					if err := s.DB(ctx).Model(&models.Payment{}).
						Where("id = ?", p.ID.String()).
						Update("auth_code", pp.AuthCode).Error; err != nil {
						return fmt.Errorf("update payment on order %q: %w", order.Reference, err)
					}
				}
				break
			}
		}
		if matched {
			continue
		}
		payment := models.Payment{
			OrderID:  order.ID,
			Method:   pp.Method,
			Amount:   pp.Amount,
			AuthCode: pp.AuthCode,
			PaidAt:   parseTimeOrNow(pp.PaidAt),
		}
		if err := s.DB(ctx).Create(&payment).Error; err != nil {
			return fmt.Errorf("create payment on order %q: %w", order.Reference, err)
		}
		order.Payments = append(order.Payments, payment)
	}
	return nil
}

// settle transitions draft→paid once payments balance the total, then
// attempts the invoice step. Invoice failure leaves the order paid.
func (e *Engine) settle(ctx context.Context, s *store.Store, order *models.SalesOrder, payload OrderPayload) error {
	if order.Status == models.OrderStatusDraft && order.Total > 0 && order.PaidAmount()+paymentEpsilon >= order.Total {
		if err := e.transition(ctx, s, order, models.OrderStatusPaid); err != nil {
			return err
		}
	}

	wantsInvoice := payload.FiscalToken != "" || payload.Status == string(models.OrderStatusInvoiced)
	if order.Status == models.OrderStatusPaid && wantsInvoice && order.Invoice == nil {
		if err := e.createInvoice(ctx, s, order, payload.FiscalToken); err != nil {
			// Degrade gracefully: the order stays paid, a fallback path
			// can mint a fresh token later.
			e.log.Error().Err(err).
				Str("reference", order.Reference).
				Msg("invoice step failed; order remains paid")
			return nil
		}
	}
	return nil
}

// createInvoice issues the fiscal invoice. When the payload carries an
// externally-issued authorization token it is stored verbatim, since
// minting a replacement would desynchronize the fiscal authority. The
// number still comes from the local numbering scheme.
func (e *Engine) createInvoice(ctx context.Context, s *store.Store, order *models.SalesOrder, fiscalToken string) error {
	number, err := s.NextInvoiceNumber(ctx, "INV")
	if err != nil {
		return fmt.Errorf("allocate invoice number: %w", err)
	}
	if fiscalToken == "" {
		fiscalToken = mintFiscalToken(order.Reference)
	}
	invoice := &models.Invoice{
		OrderID:     order.ID,
		Number:      number,
		FiscalToken: fiscalToken,
		IssuedAt:    time.Now().UTC(),
	}
	err = s.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.DB(ctx).Create(invoice).Error; err != nil {
			return err
		}
		return tx.DB(ctx).Model(&models.SalesOrder{}).
			Where("id = ?", order.ID.String()).
			Update("status", models.OrderStatusInvoiced).Error
	})
	if err != nil {
		return fmt.Errorf("create invoice for order %q: %w", order.Reference, err)
	}
	order.Invoice = invoice
	order.Status = models.OrderStatusInvoiced
	return nil
}

// ErrNotCancellable is returned for cancellation of an order whose status
// does not allow it.
var ErrNotCancellable = errors.New("order cannot be cancelled")

// cancel transitions a draft or paid order to cancelled. Invoiced orders
// cannot be cancelled through replication.
func (e *Engine) cancel(ctx context.Context, s *store.Store, order *models.SalesOrder) error {
	switch order.Status {
	case models.OrderStatusDraft, models.OrderStatusPaid:
		return e.transition(ctx, s, order, models.OrderStatusCancelled)
	case models.OrderStatusCancelled:
		return nil
	default:
		return fmt.Errorf("order %q is %s and cannot be cancelled: %w", order.Reference, order.Status, ErrNotCancellable)
	}
}

func (e *Engine) transition(ctx context.Context, s *store.Store, order *models.SalesOrder, next models.OrderStatus) error {
	if err := s.DB(ctx).Model(&models.SalesOrder{}).
		Where("id = ?", order.ID.String()).
		Update("status", next).Error; err != nil {
		return fmt.Errorf("transition order %q to %s: %w", order.Reference, next, err)
	}
	order.Status = next
	return nil
}

func (e *Engine) resolveParty(ctx context.Context, s *store.Store, payload OrderPayload) (models.PartyID, error) {
	if payload.PartyHubID != "" {
		if id, ok, err := s.LocalIDByColumn(ctx, &models.Party{}, "hub_id", payload.PartyHubID); err != nil {
			return models.PartyID{}, err
		} else if ok {
			return models.ParsePartyID(id)
		}
	}
	if payload.PartyTaxID != "" {
		if id, ok, err := s.LocalIDByColumn(ctx, &models.Party{}, "tax_id", payload.PartyTaxID); err != nil {
			return models.PartyID{}, err
		} else if ok {
			return models.ParsePartyID(id)
		}
	}
	return models.PartyID{}, fmt.Errorf("order party not found (tax_id=%q hub_id=%q)", payload.PartyTaxID, payload.PartyHubID)
}

func (e *Engine) resolveProduct(ctx context.Context, s *store.Store, lp LinePayload) (models.ProductID, error) {
	if lp.ProductBarcode != "" {
		if id, ok, err := s.LocalIDByColumn(ctx, &models.Product{}, "barcode", lp.ProductBarcode); err != nil {
			return models.ProductID{}, err
		} else if ok {
			return models.ParseProductID(id)
		}
	}
	if lp.ProductID != "" {
		for _, column := range []string{"hub_id", "id"} {
			if id, ok, err := s.LocalIDByColumn(ctx, &models.Product{}, column, lp.ProductID); err != nil {
				return models.ProductID{}, err
			} else if ok {
				return models.ParseProductID(id)
			}
		}
	}
	return models.ProductID{}, fmt.Errorf("line product not found (barcode=%q id=%q)", lp.ProductBarcode, lp.ProductID)
}

// SerializePayload builds the wire payload for a loaded aggregate.
func SerializePayload(order *models.SalesOrder, party *models.Party, barcodes map[string]string) OrderPayload {
	payload := OrderPayload{
		Reference: order.Reference,
		Status:    string(order.Status),
		Total:     order.Total,
		PlacedAt:  order.PlacedAt.UTC().Format(time.RFC3339),
	}
	if party != nil {
		payload.PartyTaxID = party.TaxID
		if party.HubID != nil {
			payload.PartyHubID = *party.HubID
		}
	}
	for _, line := range order.Lines {
		lp := LinePayload{
			ProductID: line.ProductID.String(),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		}
		if barcodes != nil {
			lp.ProductBarcode = barcodes[line.ProductID.String()]
		}
		payload.Lines = append(payload.Lines, lp)
	}
	for _, p := range order.Payments {
		payload.Payments = append(payload.Payments, PaymentPayload{
			Method:   p.Method,
			Amount:   p.Amount,
			AuthCode: p.AuthCode,
			PaidAt:   p.PaidAt.UTC().Format(time.RFC3339),
		})
	}
	if order.Invoice != nil {
		payload.FiscalToken = order.Invoice.FiscalToken
	}
	return payload
}

const paymentEpsilon = 1e-6

func amountsEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= paymentEpsilon
}

func parseTimeOrNow(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

func mintFiscalToken(reference string) string {
	return fmt.Sprintf("LOCAL-%s-%d", reference, time.Now().UTC().Unix())
}
