package registry

import (
	"context"
	"fmt"

	"github.com/edgetill/posbridge/pkg/conflict"
	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// CreditAccountPayload is the explicit wire schema of a credit account
// record. The owning party travels as its tax ID plus hub identifier.
type CreditAccountPayload struct {
	ID          string  `json:"id,omitempty"`
	HubID       string  `json:"hub_id,omitempty"`
	PartyTaxID  string  `json:"party_tax_id,omitempty"`
	PartyHubID  string  `json:"party_hub_id,omitempty"`
	PartyID     string  `json:"party_id,omitempty"`
	Balance     float64 `json:"balance"`
	CreditLimit float64 `json:"credit_limit"`
}

type creditAccountCodec struct {
	base
}

// NewCreditAccountCodec builds the credit account codec. Accounts sync
// after parties; incoming balances go through the counter reconciliation
// policy instead of overwriting.
func NewCreditAccountCodec(resolver *Resolver) Codec {
	model := func() any { return &models.CreditAccount{} }
	return &creditAccountCodec{base{
		entityType: TypeCreditAccount,
		priority:   priorityCredit,
		model:      model,
		resolver:   resolver,
		lookups: []Lookup{
			RemoteIDLookup(model),
			RawIDLookup(model),
		},
	}}
}

// IdentityKey keys credit accounts by their owning party: one account per
// party, so the party identifier deduplicates a page correctly even when
// the account's own identifiers are absent.
func (c *creditAccountCodec) IdentityKey(rec wire.Record) string {
	if v := rec.String("party_hub_id"); v != "" {
		return "party:" + v
	}
	if v := rec.String("party_tax_id"); v != "" {
		return "party:" + v
	}
	return c.base.IdentityKey(rec)
}

func (c *creditAccountCodec) Serialize(ctx context.Context, s *store.Store, localID string) (wire.Record, error) {
	var account models.CreditAccount
	err := s.DB(ctx).
		Preload("Party").
		First(&account, "id = ?", localID).Error
	if err != nil {
		return wire.Record{}, fmt.Errorf("load credit account %s: %w", localID, err)
	}

	payload := CreditAccountPayload{
		ID:          account.ID.String(),
		PartyID:     account.PartyID.String(),
		Balance:     account.Balance,
		CreditLimit: account.CreditLimit,
	}
	if account.HubID != nil {
		payload.HubID = *account.HubID
	}
	if account.Party != nil {
		payload.PartyTaxID = account.Party.TaxID
		if account.Party.HubID != nil {
			payload.PartyHubID = *account.Party.HubID
		}
	}

	fields, err := wire.EncodeFields(payload)
	if err != nil {
		return wire.Record{}, err
	}
	return wire.Record{EntityType: TypeCreditAccount, LocalID: localID, Fields: fields}, nil
}

func (c *creditAccountCodec) Apply(ctx context.Context, s *store.Store, rec wire.Record) (string, error) {
	var payload CreditAccountPayload
	if err := rec.Decode(&payload); err != nil {
		return "", err
	}

	partyID, err := c.resolveParty(ctx, s, payload)
	if err != nil {
		return "", err
	}

	account, err := s.GetCreditAccountByParty(ctx, partyID)
	if err != nil {
		return "", err
	}
	if account == nil {
		account = &models.CreditAccount{
			HubID:       strPtr(rec.RemoteID),
			PartyID:     partyID,
			Balance:     payload.Balance,
			CreditLimit: payload.CreditLimit,
		}
		if err := s.DB(ctx).Create(account).Error; err != nil {
			return "", fmt.Errorf("create credit account: %w", err)
		}
		return account.ID.String(), nil
	}

	pending, err := s.HasPendingOutbox(ctx, TypeCreditAccount, account.ID.String())
	if err != nil {
		return "", err
	}
	decision := conflict.Reconcile(
		conflict.State{Balance: account.Balance, Limit: account.CreditLimit},
		conflict.State{Balance: payload.Balance, Limit: payload.CreditLimit},
		pending,
	)
	c.resolver.log.Debug().
		Str("account", account.ID.String()).
		Float64("local_balance", account.Balance).
		Float64("incoming_balance", payload.Balance).
		Str("rule", string(decision.Rule)).
		Msg("credit balance reconciled")

	account.Balance = decision.Balance
	account.CreditLimit = decision.Limit
	if account.HubID == nil && rec.RemoteID != "" {
		account.HubID = strPtr(rec.RemoteID)
	}
	if err := s.DB(ctx).Save(account).Error; err != nil {
		return "", fmt.Errorf("update credit account: %w", err)
	}
	return account.ID.String(), nil
}

func (c *creditAccountCodec) resolveParty(ctx context.Context, s *store.Store, payload CreditAccountPayload) (models.PartyID, error) {
	if payload.PartyHubID != "" {
		for _, column := range []string{"hub_id", "id"} {
			if id, ok, err := s.LocalIDByColumn(ctx, &models.Party{}, column, payload.PartyHubID); err != nil {
				return models.PartyID{}, err
			} else if ok {
				return models.ParsePartyID(id)
			}
		}
	}
	if payload.PartyTaxID != "" {
		if id, ok, err := s.LocalIDByColumn(ctx, &models.Party{}, "tax_id", payload.PartyTaxID); err != nil {
			return models.PartyID{}, err
		} else if ok {
			return models.ParsePartyID(id)
		}
	}
	if payload.PartyID != "" {
		if id, ok, err := s.LocalIDByColumn(ctx, &models.Party{}, "id", payload.PartyID); err != nil {
			return models.PartyID{}, err
		} else if ok {
			return models.ParsePartyID(id)
		}
	}
	return models.PartyID{}, fmt.Errorf("credit account party not found (tax_id=%q hub_id=%q)", payload.PartyTaxID, payload.PartyHubID)
}
