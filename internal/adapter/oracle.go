package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/soltrade-core/internal/config"
	apperrors "github.com/soltrade-core/internal/errors"
)

// PriceOracle exposes the cached market prices the engines consume. A price
// that is missing, stale or non-positive is unavailable, never zero.
type PriceOracle interface {
	GetSOLPriceUSD(ctx context.Context) (decimal.Decimal, error)
	GetTokenPriceUSD(ctx context.Context, mint string) (decimal.Decimal, error)
}

// RedisPriceOracle reads prices from the Redis cache populated by the
// upstream market-data pipeline.
type RedisPriceOracle struct {
	client   *redis.Client
	priceKey string
}

// NewRedisPriceOracle creates a price oracle over the shared Redis cache.
func NewRedisPriceOracle(client *redis.Client, cfg *config.OracleConfig) *RedisPriceOracle {
	return &RedisPriceOracle{
		client:   client,
		priceKey: cfg.PriceKey,
	}
}

func (o *RedisPriceOracle) getPrice(ctx context.Context, key string) (decimal.Decimal, error) {
	val, err := o.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, apperrors.NewPriceUnavailableError(fmt.Errorf("price key %s not set", key))
		}
		return decimal.Zero, apperrors.NewPriceUnavailableError(err)
	}

	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, apperrors.NewPriceUnavailableError(fmt.Errorf("malformed price %q: %w", val, err))
	}

	if !price.IsPositive() {
		return decimal.Zero, apperrors.NewPriceUnavailableError(fmt.Errorf("non-positive price %s", price))
	}

	return price, nil
}

// GetSOLPriceUSD returns the current SOL/USD price.
func (o *RedisPriceOracle) GetSOLPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	return o.getPrice(ctx, o.priceKey)
}

// GetTokenPriceUSD returns the current USD price of an SPL token.
func (o *RedisPriceOracle) GetTokenPriceUSD(ctx context.Context, mint string) (decimal.Decimal, error) {
	return o.getPrice(ctx, fmt.Sprintf("price:token:%s:usd", mint))
}
