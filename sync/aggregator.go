package sync

// Totals are the period rollup figures for one run. Percentages are on a
// 0-100 scale.
type Totals struct {
	Tasks          int     `json:"tasks"`
	Revenue        float64 `json:"revenue"`
	ProductRevenue float64 `json:"product_revenue"`
	ServiceRevenue float64 `json:"service_revenue"`
	Cost           float64 `json:"cost"`
	ProductCost    float64 `json:"product_cost"`
	Profit         float64 `json:"profit"`
	ProductProfit  float64 `json:"product_profit"`
	ServiceProfit  float64 `json:"service_profit"`

	ProductRevenueShare float64 `json:"product_revenue_share"`
	ServiceRevenueShare float64 `json:"service_revenue_share"`
	ProductProfitShare  float64 `json:"product_profit_share"`
	ServiceProfitShare  float64 `json:"service_profit_share"`
	Margin              float64 `json:"margin"`
}

// Aggregator accumulates task figures for a period.
type Aggregator struct {
	totals Totals
}

// Add folds one task into the running sums.
func (a *Aggregator) Add(f Figures) {
	a.totals.Tasks++
	a.totals.Revenue += f.Revenue
	a.totals.ProductRevenue += f.ProductRevenue
	a.totals.ServiceRevenue += f.ServiceRevenue
	a.totals.Cost += f.Cost
	a.totals.ProductCost += f.ProductCost
	a.totals.Profit += f.Profit
	a.totals.ProductProfit += f.ProductProfit
	a.totals.ServiceProfit += f.ServiceProfit
}

// Finish returns the sums with the derived percentages filled in.
func (a *Aggregator) Finish() Totals {
	t := a.totals
	t.ProductRevenueShare = percent(t.ProductRevenue, t.Revenue)
	t.ServiceRevenueShare = percent(t.ServiceRevenue, t.Revenue)
	t.ProductProfitShare = percent(t.ProductProfit, t.Profit)
	t.ServiceProfitShare = percent(t.ServiceProfit, t.Profit)
	t.Margin = percent(t.Profit, t.Revenue)
	return t
}

// percent is num/den*100, or 0 when den is 0.
func percent(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den * 100
}
