package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/services/lsm"
	xhttp "SabrLSM/pkg/http"
	pkgkafka "SabrLSM/pkg/kafka"
	applogger "SabrLSM/pkg/logger"
)

// KafkaPriceRequestHandler prices PriceRequest messages. The use case
// publishes each result. Bad requests are marked permanent so the consumer
// sends them straight to the DLQ instead of retrying.
type KafkaPriceRequestHandler struct {
	topic string
	uc    *PricingUseCase
	log   *applogger.Logger
}

func NewKafkaPriceRequestHandler(topic string, uc *PricingUseCase, l *applogger.Logger) *KafkaPriceRequestHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &KafkaPriceRequestHandler{topic: topic, uc: uc, log: l}
}

func (h *KafkaPriceRequestHandler) Topic() string { return h.topic }

func (h *KafkaPriceRequestHandler) Handle(ctx context.Context, b []byte) error {
	var req models.PriceRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return fmt.Errorf("%w: decode price request: %v", pkgkafka.ErrPermanent, err)
	}
	if verrs := xhttp.DefaultAndValidate(ctx, &req); verrs != nil {
		return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, xhttp.ValidationErrorsAsError(verrs))
	}
	in, err := h.uc.Resolve(req)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
	}

	res, err := h.uc.Price(ctx, in)
	if err != nil {
		if lsm.IsConfigurationError(err) || errors.Is(err, ErrTooManyPaths) {
			return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
		}
		return err
	}
	h.log.Info("priced kafka request",
		applogger.String("run_id", res.RunID),
		applogger.Float64("price", res.Estimate.Price),
		applogger.Bool("cached", res.Cached),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaPriceRequestHandler)(nil)
