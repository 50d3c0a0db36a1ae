package domain

type QuotaResult struct {
	Allowed   bool     `json:"allowed"`
	Remaining int64    `json:"remaining"`
	Limit     int64    `json:"limit"`
	Category  Category `json:"category"`
}

type CategoryUsage struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// QuotaUsage agrupa o consumo por categoria, incluindo o total.
type QuotaUsage struct {
	UserID     string                     `json:"userId"`
	Tier       Tier                       `json:"tier"`
	Categories map[Category]CategoryUsage `json:"categories"`
}

func NewCategoryUsage(used int64, limit int) CategoryUsage {
	remaining := int64(limit) - used
	if remaining < 0 {
		remaining = 0
	}
	return CategoryUsage{Used: used, Limit: int64(limit), Remaining: remaining}
}
