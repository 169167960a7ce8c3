package binance

import (
	"fmt"
	"time"
)

const (
	exchangeInfoTTL = time.Hour
	symbolRulesTTL  = 4 * time.Hour
)

// ExchangeInfoCached returns the exchange metadata, refreshing at most
// once per TTL. Concurrent callers share a single fetch; when a refresh
// fails and a previous snapshot exists, the stale copy is served.
func (c *Client) ExchangeInfoCached() (*ExchangeInfo, error) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()

	if c.info != nil && time.Since(c.infoFetched) < exchangeInfoTTL {
		return c.info, nil
	}
	info, err := c.GetExchangeInfo()
	if err != nil {
		if c.info != nil {
			c.log.Warn().Err(err).Msg("exchange info refresh failed, serving stale copy")
			return c.info, nil
		}
		return nil, err
	}
	c.info = info
	c.infoFetched = time.Now()
	c.log.Debug().Int("symbols", len(info.Symbols)).Msg("exchange info refreshed")
	return info, nil
}

// SymbolRulesCached returns tick size, step size and precisions for one
// symbol. Rules change rarely, so they carry a longer TTL than the raw
// exchange info snapshot they are derived from.
func (c *Client) SymbolRulesCached(symbol string) (*SymbolRules, error) {
	c.rulesMu.Lock()
	if r, ok := c.rules[symbol]; ok && time.Since(c.rulesFetched[symbol]) < symbolRulesTTL {
		c.rulesMu.Unlock()
		return r, nil
	}
	c.rulesMu.Unlock()

	info, err := c.ExchangeInfoCached()
	if err != nil {
		return nil, err
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		rules, err := rulesFromSymbolInfo(s)
		if err != nil {
			return nil, err
		}
		c.rulesMu.Lock()
		c.rules[symbol] = rules
		c.rulesFetched[symbol] = time.Now()
		c.rulesMu.Unlock()
		return rules, nil
	}
	return nil, fmt.Errorf("symbol %s not in exchange info", symbol)
}

func rulesFromSymbolInfo(s *SymbolInfo) (*SymbolRules, error) {
	tick, ok := s.TickSize()
	if !ok {
		return nil, fmt.Errorf("symbol %s has no usable price filter", s.Symbol)
	}
	step, ok := s.StepSize()
	if !ok {
		return nil, fmt.Errorf("symbol %s has no usable lot-size filter", s.Symbol)
	}
	return &SymbolRules{
		Symbol:            s.Symbol,
		TickSize:          tick,
		StepSize:          step,
		PricePrecision:    s.PricePrecision,
		QuantityPrecision: s.QuantityPrecision,
	}, nil
}
