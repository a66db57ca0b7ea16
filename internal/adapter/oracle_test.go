package adapter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltrade-core/internal/config"
	apperrors "github.com/soltrade-core/internal/errors"
)

func setupOracleTest(t *testing.T) (*RedisPriceOracle, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	oracle := NewRedisPriceOracle(client, &config.OracleConfig{PriceKey: "price:sol:usd"})
	return oracle, mr
}

func TestRedisPriceOracle_GetSOLPriceUSD(t *testing.T) {
	oracle, mr := setupOracleTest(t)
	ctx := context.Background()

	t.Run("returns cached price", func(t *testing.T) {
		require.NoError(t, mr.Set("price:sol:usd", "142.35"))

		price, err := oracle.GetSOLPriceUSD(ctx)
		require.NoError(t, err)
		assert.Equal(t, "142.35", price.String())
	})

	t.Run("missing key is unavailable", func(t *testing.T) {
		mr.Del("price:sol:usd")

		_, err := oracle.GetSOLPriceUSD(ctx)
		assert.True(t, apperrors.IsCode(err, apperrors.CodePriceUnavailable))
	})

	t.Run("zero price is unavailable", func(t *testing.T) {
		require.NoError(t, mr.Set("price:sol:usd", "0"))

		_, err := oracle.GetSOLPriceUSD(ctx)
		assert.True(t, apperrors.IsCode(err, apperrors.CodePriceUnavailable))
	})

	t.Run("negative price is unavailable", func(t *testing.T) {
		require.NoError(t, mr.Set("price:sol:usd", "-1.5"))

		_, err := oracle.GetSOLPriceUSD(ctx)
		assert.True(t, apperrors.IsCode(err, apperrors.CodePriceUnavailable))
	})

	t.Run("malformed price is unavailable", func(t *testing.T) {
		require.NoError(t, mr.Set("price:sol:usd", "not-a-number"))

		_, err := oracle.GetSOLPriceUSD(ctx)
		assert.True(t, apperrors.IsCode(err, apperrors.CodePriceUnavailable))
	})
}

func TestRedisPriceOracle_GetTokenPriceUSD(t *testing.T) {
	oracle, mr := setupOracleTest(t)
	ctx := context.Background()

	mint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	require.NoError(t, mr.Set("price:token:"+mint+":usd", "0.9998"))

	price, err := oracle.GetTokenPriceUSD(ctx, mint)
	require.NoError(t, err)
	assert.Equal(t, "0.9998", price.String())

	_, err = oracle.GetTokenPriceUSD(ctx, "UnknownMint")
	assert.True(t, apperrors.IsCode(err, apperrors.CodePriceUnavailable))
}
