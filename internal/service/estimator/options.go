package estimator

import (
	"unnatural-go/internal/config"
	"unnatural-go/internal/service/ngram"
)

// ModelOptions translates the model section of the configuration.
func ModelOptions(cfg config.ModelConfig) (ngram.Options, error) {
	smoother, err := ngram.NewSmoother(cfg.Smoothing, cfg.AddK)
	if err != nil {
		return ngram.Options{}, err
	}
	return ngram.Options{
		Order:             cfg.Order,
		Smoother:          smoother,
		UnigramK:          cfg.AddK,
		UseBloom:          cfg.UseBloom,
		ExpectedItems:     cfg.BloomItems,
		FalsePositiveRate: 0.01,
	}, nil
}
