package feed

import (
	"encoding/json"
)

// Migration is the useful content of one feed frame: the migrated token and,
// when the event carries one, its new liquidity pool.
type Migration struct {
	TokenAddress string
	PoolAddress  string
	Dex          string
}

// addressKeys are tried in order on the top level and one level under "data".
var addressKeys = []string{"mint", "address", "tokenAddress"}

var poolKeys = []string{"pool_address", "liquidity_pool_address"}

// defaultDex labels pools from migration events without an explicit venue.
// Migrations land on Raydium.
const defaultDex = "raydium"

// ParseFrame extracts a migration from a raw text frame. Returns false for
// keepalives, subscription acknowledgements and any other frame without a
// plausible token address.
func ParseFrame(raw []byte) (Migration, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Migration{}, false
	}

	if m, ok := fromObject(payload); ok {
		return m, true
	}
	if data, ok := payload["data"].(map[string]interface{}); ok {
		return fromObject(data)
	}
	return Migration{}, false
}

func fromObject(obj map[string]interface{}) (Migration, bool) {
	var m Migration
	for _, key := range addressKeys {
		if val, ok := obj[key].(string); ok && validAddress(val) {
			m.TokenAddress = val
			break
		}
	}
	if m.TokenAddress == "" {
		return Migration{}, false
	}

	for _, key := range poolKeys {
		if val, ok := obj[key].(string); ok && validAddress(val) {
			m.PoolAddress = val
			break
		}
	}
	if m.PoolAddress != "" {
		m.Dex = defaultDex
		if val, ok := obj["dex"].(string); ok && val != "" {
			m.Dex = val
		}
	}
	return m, true
}

// validAddress is a cheap base58 sanity filter for Solana addresses.
func validAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '1' && c <= '9':
		case c >= 'A' && c <= 'H':
		case c >= 'J' && c <= 'N':
		case c >= 'P' && c <= 'Z':
		case c >= 'a' && c <= 'k':
		case c >= 'm' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
