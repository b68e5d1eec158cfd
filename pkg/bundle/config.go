package bundle

import (
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/config"
)

// BudgetFromConfig maps the persisted budget section onto a Budget.
func BudgetFromConfig(c config.BudgetConfig) Budget {
	return Budget{
		Total: c.Total,
		PerSource: map[string]int{
			SourceMemory:   c.Memory,
			SourceDocument: c.Document,
			SourceVault:    c.Vault,
			SourceExternal: c.External,
		},
		Order: c.Order,
	}
}

// NewBudgeterFromConfig builds a budgeter straight from configuration.
func NewBudgeterFromConfig(c config.BudgetConfig, logger *zap.Logger) (*Budgeter, error) {
	return NewBudgeter(BudgetFromConfig(c), logger)
}
