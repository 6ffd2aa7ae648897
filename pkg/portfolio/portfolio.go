package portfolio

// Holding is a position in one instrument.
type Holding struct {
	InstrumentID string  `json:"instrument" mapstructure:"instrument"`
	Amount       float64 `json:"amount" mapstructure:"amount"`
	CostBasis    float64 `json:"cost_basis" mapstructure:"cost_basis"`
}

// PriceLookup is satisfied by a published hub State.
type PriceLookup interface {
	Price(id string) (float64, bool)
	ChangePercent(id string) (float64, bool)
}

type Position struct {
	Holding
	Price        float64 `json:"price"`
	Stale        bool    `json:"stale"`
	Value        float64 `json:"value"`
	Cost         float64 `json:"cost"`
	PnL          float64 `json:"pnl"`
	PnLPercent   float64 `json:"pnl_percent"`
	PnLPercentOK bool    `json:"pnl_percent_ok"`
	Allocation   float64 `json:"allocation"`
	AllocationOK bool    `json:"allocation_ok"`
	Change24h    float64 `json:"change_24h"`
	Change24hOK  bool    `json:"change_24h_ok"`
}

type Summary struct {
	Positions    []Position `json:"positions"`
	TotalValue   float64    `json:"total_value"`
	TotalCost    float64    `json:"total_cost"`
	TotalPnL     float64    `json:"total_pnl"`
	PnLPercent   float64    `json:"pnl_percent"`
	PnLPercentOK bool       `json:"pnl_percent_ok"`
}

// Value marks every holding to the prices in one lookup. A holding whose
// instrument has no live price falls back to bases and is flagged stale.
func Value(holdings []Holding, prices PriceLookup, bases map[string]float64) Summary {
	var sum Summary
	sum.Positions = make([]Position, 0, len(holdings))

	for _, h := range holdings {
		pos := Position{Holding: h}
		price, ok := prices.Price(h.InstrumentID)
		if !ok {
			price = bases[h.InstrumentID]
			pos.Stale = true
		} else {
			pos.Change24h, pos.Change24hOK = prices.ChangePercent(h.InstrumentID)
		}
		pos.Price = price
		pos.Value = h.Amount * price
		pos.Cost = h.Amount * h.CostBasis
		pos.PnL = pos.Value - pos.Cost
		pos.PnLPercent, pos.PnLPercentOK = percent(pos.PnL, pos.Cost)

		sum.TotalValue += pos.Value
		sum.TotalCost += pos.Cost
		sum.Positions = append(sum.Positions, pos)
	}

	for i := range sum.Positions {
		p := &sum.Positions[i]
		p.Allocation, p.AllocationOK = percent(p.Value, sum.TotalValue)
	}
	sum.TotalPnL = sum.TotalValue - sum.TotalCost
	sum.PnLPercent, sum.PnLPercentOK = percent(sum.TotalPnL, sum.TotalCost)
	return sum
}

func percent(part, whole float64) (float64, bool) {
	if whole == 0 {
		return 0, false
	}
	return part / whole * 100, true
}
