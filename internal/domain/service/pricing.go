package service

import (
	"context"

	"SabrLSM/internal/domain/models"
)

// Pricer values a Bermudan option. lsm.Engine is the production
// implementation.
type Pricer interface {
	Price(ctx context.Context, in models.PricingInputs) (models.PricingEstimate, error)
}
