package registry

import (
	"github.com/rs/zerolog"

	"github.com/edgetill/posbridge/pkg/workflow"
)

// NewDefault builds the registry with every built-in codec wired to one
// shared resolver and workflow engine. Node and hub both start from this
// set.
func NewDefault(log zerolog.Logger) *Registry {
	resolver := NewResolver(log)
	engine := workflow.NewEngine(log)

	r := New()
	r.MustRegister(NewPartyCodec(resolver))
	r.MustRegister(NewCategoryCodec(resolver))
	r.MustRegister(NewUnitCodec(resolver))
	r.MustRegister(NewProductCodec(resolver))
	r.MustRegister(NewPriceListCodec(resolver))
	r.MustRegister(NewCreditAccountCodec(resolver))
	r.MustRegister(NewOrderCodec(resolver, engine))
	return r
}
