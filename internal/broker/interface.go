package broker

import (
	"context"
	"time"
)

// Client defines the venue operations the bot depends on
type Client interface {
	GetCandles(ctx context.Context, symbol string, count int) ([]Candle, error)
	GetCurrentPrice(ctx context.Context, symbol string) (Quote, error)
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
	GetSymbolMeta(ctx context.Context, symbol string) (SymbolMeta, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)
	// GetClosedDeals returns deals in [since, until]; an empty symbol
	// means every symbol.
	GetClosedDeals(ctx context.Context, since, until time.Time, symbol string) ([]Deal, error)
}

// Ensure both clients implement Client
var _ Client = (*BridgeClient)(nil)
var _ Client = (*PaperClient)(nil)
