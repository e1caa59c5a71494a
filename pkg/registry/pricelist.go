package registry

import (
	"context"
	"fmt"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// PriceListItemPayload is one per-product override inside a price list
// record. The product travels as its barcode with the raw ID as fallback.
type PriceListItemPayload struct {
	ProductBarcode string  `json:"product_barcode,omitempty"`
	ProductID      string  `json:"product_id,omitempty"`
	Price          float64 `json:"price"`
}

// PriceListPayload is the explicit wire schema of a price list record.
// Items replicate wholesale with their list: the list is the aggregate.
type PriceListPayload struct {
	ID       string                 `json:"id,omitempty"`
	HubID    string                 `json:"hub_id,omitempty"`
	LegacyID string                 `json:"legacy_id,omitempty"`
	Code     string                 `json:"code"`
	Name     string                 `json:"name,omitempty"`
	Currency string                 `json:"currency,omitempty"`
	Items    []PriceListItemPayload `json:"items,omitempty"`
}

type priceListCodec struct {
	base
}

// NewPriceListCodec builds the price list codec. The natural key is the
// list code; lists sync after products so item references resolve.
func NewPriceListCodec(resolver *Resolver) Codec {
	model := func() any { return &models.PriceList{} }
	return &priceListCodec{base{
		entityType: TypePriceList,
		priority:   priorityPriceList,
		model:      model,
		naturalKey: "code",
		resolver:   resolver,
		lookups: []Lookup{
			RemoteIDLookup(model),
			LegacyIDLookup(model),
			NaturalKeyLookup("code", model, "code", "code"),
			RawIDLookup(model),
		},
	}}
}

func (c *priceListCodec) Serialize(ctx context.Context, s *store.Store, localID string) (wire.Record, error) {
	var list models.PriceList
	err := s.DB(ctx).
		Preload("Items").
		Preload("Items.Product").
		First(&list, "id = ?", localID).Error
	if err != nil {
		return wire.Record{}, fmt.Errorf("load price list %s: %w", localID, err)
	}

	payload := PriceListPayload{
		ID:       list.ID.String(),
		Code:     list.Code,
		Name:     list.Name,
		Currency: list.Currency,
	}
	if list.HubID != nil {
		payload.HubID = *list.HubID
	}
	if list.LegacyID != nil {
		payload.LegacyID = *list.LegacyID
	}
	for _, item := range list.Items {
		ip := PriceListItemPayload{
			ProductID: item.ProductID.String(),
			Price:     item.Price,
		}
		if item.Product != nil {
			ip.ProductBarcode = item.Product.Barcode
		}
		payload.Items = append(payload.Items, ip)
	}

	fields, err := wire.EncodeFields(payload)
	if err != nil {
		return wire.Record{}, err
	}
	return wire.Record{EntityType: TypePriceList, LocalID: localID, Fields: fields}, nil
}

func (c *priceListCodec) Apply(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	var payload PriceListPayload
	if err := rec.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Code == "" {
		return "", fmt.Errorf("price list record without a code")
	}

	localID, found, err := c.resolve(ctx, s, rec)
	if err != nil {
		return "", err
	}

	var list models.PriceList
	if found {
		if err := loadByID(ctx, s, &list, localID); err != nil {
			return "", err
		}
		list.Code = payload.Code
		list.Name = payload.Name
		list.Currency = payload.Currency
		if list.HubID == nil && rec.RemoteID != "" {
			list.HubID = strPtr(rec.RemoteID)
		}
		if list.LegacyID == nil {
			list.LegacyID = strPtr(payload.LegacyID)
		}
		if err := s.DB(ctx).Save(&list).Error; err != nil {
			return "", fmt.Errorf("update price list: %w", err)
		}
	} else {
		list = models.PriceList{
			HubID:    strPtr(rec.RemoteID),
			LegacyID: strPtr(payload.LegacyID),
			Code:     payload.Code,
			Name:     payload.Name,
			Currency: payload.Currency,
		}
		if err := s.DB(ctx).Create(&list).Error; err != nil {
			return "", fmt.Errorf("create price list: %w", err)
		}
	}

	if err := c.replaceItems(ctx, s, &list, payload.Items); err != nil {
		return "", err
	}
	return list.ID.String(), nil
}

// replaceItems swaps the item set wholesale. Items carry no identity of
// their own, so replacement is simpler and just as idempotent as diffing.
// Items whose product cannot be resolved are skipped with a warning; the
// product feed may still be catching up.
func (c *priceListCodec) replaceItems(ctx context.Context, s *store.Store, list *models.PriceList, items []PriceListItemPayload) error {
	if err := s.DB(ctx).
		Where("price_list_id = ?", list.ID.String()).
		Delete(&models.PriceListItem{}).Error; err != nil {
		return fmt.Errorf("clear price list items: %w", err)
	}
	for _, ip := range items {
		productID, ok, err := c.resolveProduct(ctx, s, ip)
		if err != nil {
			return err
		}
		if !ok {
			c.resolver.log.Warn().
				Str("price_list", list.Code).
				Str("barcode", ip.ProductBarcode).
				Str("product_id", ip.ProductID).
				Msg("price list item skipped; product not found")
			continue
		}
		item := models.PriceListItem{
			PriceListID: list.ID,
			ProductID:   productID,
			Price:       ip.Price,
		}
		if err := s.DB(ctx).Create(&item).Error; err != nil {
			return fmt.Errorf("create price list item: %w", err)
		}
	}
	return nil
}

func (c *priceListCodec) resolveProduct(ctx context.Context, s *store.Store, ip PriceListItemPayload) (models.ProductID, bool, error) {
	if ip.ProductBarcode != "" {
		id, ok, err := s.LocalIDByColumn(ctx, &models.Product{}, "barcode", ip.ProductBarcode)
		if err != nil {
			return models.ProductID{}, false, err
		}
		if ok {
			pid, err := models.ParseProductID(id)
			return pid, true, err
		}
	}
	if ip.ProductID != "" {
		for _, column := range []string{"hub_id", "id"} {
			id, ok, err := s.LocalIDByColumn(ctx, &models.Product{}, column, ip.ProductID)
			if err != nil {
				return models.ProductID{}, false, err
			}
			if ok {
				pid, err := models.ParseProductID(id)
				return pid, true, err
			}
		}
	}
	return models.ProductID{}, false, nil
}
