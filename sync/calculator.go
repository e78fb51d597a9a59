package sync

import "github.com/fieldfin/taskfin/auvo"

// UnitCostLookup resolves a product's unit cost for the current user. An
// unknown product reports found=false with a nil error.
type UnitCostLookup interface {
	UnitCost(productID string) (cost float64, found bool, err error)
}

// Figures are the financial results for one task.
type Figures struct {
	ProductRevenue float64 `json:"product_revenue"`
	ProductCost    float64 `json:"product_cost"`
	ServiceRevenue float64 `json:"service_revenue"`
	Revenue        float64 `json:"revenue"`
	Cost           float64 `json:"cost"`
	ProductProfit  float64 `json:"product_profit"`
	ServiceProfit  float64 `json:"service_profit"`
	Profit         float64 `json:"profit"`
}

// Calculate derives revenue, cost and profit from a task's line items.
// Unknown products cost 0 but their charged value still counts as revenue.
// Services carry no cost. No rounding is applied. A failed lookup is
// returned as is.
func Calculate(rec auvo.TaskRecord, costs UnitCostLookup) (Figures, error) {
	var f Figures

	for _, p := range rec.Products {
		unit, _, err := costs.UnitCost(p.ProductID)
		if err != nil {
			return Figures{}, err
		}
		f.ProductCost += unit * p.Quantity
		f.ProductRevenue += p.Value
	}
	for _, s := range rec.Services {
		f.ServiceRevenue += s.Value
	}

	f.ProductProfit = f.ProductRevenue - f.ProductCost
	f.ServiceProfit = f.ServiceRevenue
	f.Revenue = f.ProductRevenue + f.ServiceRevenue
	f.Cost = f.ProductCost
	f.Profit = f.ProductProfit + f.ServiceProfit
	return f, nil
}
