package registry

import (
	"context"
	"fmt"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
	"github.com/edgetill/posbridge/pkg/workflow"
)

type orderCodec struct {
	base
	engine *workflow.Engine
}

// NewOrderCodec builds the order codec. Orders sync last; application is
// delegated to the workflow engine, which owns the aggregate's multi-step
// idempotent creation.
func NewOrderCodec(resolver *Resolver, engine *workflow.Engine) Codec {
	model := func() any { return &models.SalesOrder{} }
	return &orderCodec{
		base: base{
			entityType: TypeOrder,
			priority:   priorityOrder,
			model:      model,
			naturalKey: "reference",
			resolver:   resolver,
			lookups: []Lookup{
				RemoteIDLookup(model),
				NaturalKeyLookup("reference", model, "reference", "reference"),
				RawIDLookup(model),
			},
		},
		engine: engine,
	}
}

func (c *orderCodec) Serialize(ctx context.Context, s *store.Store, localID string) (wire.Record, error) {
	id, err := models.ParseOrderID(localID)
	if err != nil {
		return wire.Record{}, err
	}
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return wire.Record{}, err
	}
	if order == nil {
		return wire.Record{}, fmt.Errorf("order %s not found", localID)
	}

	var party models.Party
	if err := loadByID(ctx, s, &party, order.PartyID.String()); err != nil {
		return wire.Record{}, fmt.Errorf("load order party: %w", err)
	}

	barcodes := make(map[string]string, len(order.Lines))
	for _, line := range order.Lines {
		var product models.Product
		if err := loadByID(ctx, s, &product, line.ProductID.String()); err != nil {
			return wire.Record{}, fmt.Errorf("load order line product: %w", err)
		}
		barcodes[line.ProductID.String()] = product.Barcode
	}

	payload := workflow.SerializePayload(order, &party, barcodes)
	fields, err := wire.EncodeFields(payload)
	if err != nil {
		return wire.Record{}, err
	}
	return wire.Record{EntityType: TypeOrder, LocalID: localID, Fields: fields}, nil
}

func (c *orderCodec) Apply(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	return c.engine.ApplyOrder(ctx, s, rec)
}
