package domain

// Source identifies the remote endpoint family a series is fetched from.
type Source string

const (
	SourceVaultBalance    Source = "vault_balance"
	SourceStrategyBalance Source = "strategy_balance"
	SourceFundingTrend    Source = "funding_trend"
	SourceKline           Source = "kline"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s Source) IsValid() bool {
	switch s {
	case SourceVaultBalance, SourceStrategyBalance, SourceFundingTrend, SourceKline:
		return true
	}
	return false
}
