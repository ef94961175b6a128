// Package stats maintains online performance statistics for a backtest
// client: running Sharpe and Sortino ratios, win rate, expectancy, profit
// factor, and drawdown tracking. Estimators update in O(1) per
// observation so they can run inside every replay tick.
package stats
