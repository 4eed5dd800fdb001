package ledger

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// SUMMARY REPORT - Income and expense over a period
// =============================================================================

// CategoryTotal is one row of a summary breakdown.
type CategoryTotal struct {
	CategoryID CategoryID `json:"category_id"`
	Name       string     `json:"name"`
	Polarity   Direction  `json:"polarity"`
	Income     Amount     `json:"income"`
	Expense    Amount     `json:"expense"`
	Entries    int        `json:"entries"`
}

type Summary struct {
	Period     Period          `json:"period"`
	Income     Amount          `json:"total_income"`
	Expense    Amount          `json:"total_expense"`
	Net        Amount          `json:"net"`
	Entries    int             `json:"entries"`
	Categories []CategoryTotal `json:"categories"`
}

// Summary totals entries dated inside p. Reversals net against the bucket
// of the entry they offset, so a reversed payment contributes nothing.
func (e *Engine) Summary(ctx context.Context, p Period) (Summary, error) {
	if !p.Valid() {
		return Summary{}, fmt.Errorf("period %s: %w", p, ErrInvalidInput)
	}
	entries, err := e.store.LoadEntries(ctx, EntryFilter{From: p.Start, To: p.End})
	if err != nil {
		return Summary{}, err
	}
	cats, err := e.store.ListCategories(ctx)
	if err != nil {
		return Summary{}, err
	}
	byID := make(map[CategoryID]Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}

	grouped := make(map[CategoryID][]Entry)
	for _, en := range entries {
		grouped[en.CategoryID] = append(grouped[en.CategoryID], en)
	}

	out := Summary{Period: p, Income: Zero(), Expense: Zero(), Entries: len(entries)}
	for id, group := range grouped {
		income, expense := splitBuckets(group)
		c := byID[id]
		out.Categories = append(out.Categories, CategoryTotal{
			CategoryID: id,
			Name:       c.Name,
			Polarity:   c.Polarity,
			Income:     income,
			Expense:    expense,
			Entries:    len(group),
		})
		out.Income = out.Income.Add(income)
		out.Expense = out.Expense.Add(expense)
	}
	sort.Slice(out.Categories, func(i, j int) bool {
		return out.Categories[i].CategoryID < out.Categories[j].CategoryID
	})
	out.Net = out.Income.Sub(out.Expense)
	return out, nil
}
