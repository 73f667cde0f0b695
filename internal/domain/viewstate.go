package domain

import "fmt"

// Module names a logical chart owner whose widgets share one view-state.
type Module string

const (
	ModuleMyVault      Module = "myvault"
	ModuleVaultsDetail Module = "vaultsdetail"
	ModuleMyStrategy   Module = "mystrategy"
)

// ViewState holds the UI-selected parameters of a chart widget.
type ViewState struct {
	TimeRange TimeRange `json:"timeRange"`
	ChartType ChartType `json:"chartType"`
	TargetID  string    `json:"targetId,omitempty"` // vault or strategy id
}

// QueryKey identifies one remote series request. Two requests with equal
// keys are interchangeable and may be deduplicated.
type QueryKey struct {
	Source    Source    `json:"source"`
	TargetID  string    `json:"targetId,omitempty"`
	TimeRange TimeRange `json:"timeRange,omitempty"`
	ChartType ChartType `json:"chartType,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Interval  string    `json:"interval,omitempty"`
	// Start and End bound a kline request in unix milliseconds. Zero leaves
	// the bound open.
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// String returns the canonical cache key.
func (k QueryKey) String() string {
	base := fmt.Sprintf("%s|%s|%s|%s|%s|%s", k.Source, k.TargetID, k.TimeRange, k.ChartType, k.Symbol, k.Interval)
	if k.Start == 0 && k.End == 0 {
		return base
	}
	return fmt.Sprintf("%s|%d-%d", base, k.Start, k.End)
}

// IsZero reports whether no request is selected (widget Idle).
func (k QueryKey) IsZero() bool {
	return k == QueryKey{}
}
