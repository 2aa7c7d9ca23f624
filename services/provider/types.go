package provider

import (
	"time"

	"github.com/tidwall/gjson"
)

// TokenOverview is the decoded defi/token_overview payload.
type TokenOverview struct {
	Address   string
	Name      string
	Symbol    string
	Price     float64
	MarketCap float64
	Liquidity float64
	Holders   int
}

func overviewFromEnvelope(address string, data gjson.Result) *TokenOverview {
	holders := data.Get("holder")
	if !holders.Exists() {
		holders = data.Get("holders")
	}
	return &TokenOverview{
		Address:   address,
		Name:      data.Get("name").String(),
		Symbol:    data.Get("symbol").String(),
		Price:     data.Get("price").Float(),
		MarketCap: data.Get("mc").Float(),
		Liquidity: data.Get("liquidity").Float(),
		Holders:   int(holders.Int()),
	}
}

// TokenTrades aggregates the defi/txs/token trade items into the 5 minute
// and 1 hour windows used by the scoring model.
type TokenTrades struct {
	Address       string
	TxCount5m     int
	TxCount1h     int
	Volume5m      float64
	Volume1h      float64
	BuysVolume5m  float64
	SellsVolume5m float64
}

func tradesFromItems(address string, items []gjson.Result, now time.Time) *TokenTrades {
	t := &TokenTrades{Address: address}

	cutoff5m := now.Add(-5 * time.Minute)
	cutoff1h := now.Add(-time.Hour)

	for _, item := range items {
		tradeTime := time.Unix(item.Get("blockUnixTime").Int(), 0)
		volumeUSD := item.Get("volumeInUSD").Float()

		if !tradeTime.Before(cutoff5m) {
			t.TxCount5m++
			t.Volume5m += volumeUSD
			if item.Get("txType").String() == "buy" {
				t.BuysVolume5m += volumeUSD
			} else {
				t.SellsVolume5m += volumeUSD
			}
		}
		if !tradeTime.Before(cutoff1h) {
			t.TxCount1h++
			t.Volume1h += volumeUSD
		}
	}

	return t
}
