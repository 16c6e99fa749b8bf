/*
Core implements the deterministic backtest kernel.

# Module
  - feed: synchronized bar-sets, one per tick
  - indicators: per-symbol rolling readings handed to the strategy
  - strategy runtime: single thread strategy invoker plus conflict resolver
  - risk engine: turns each signal into an order intent or a reason code,
    with capital reserved within the tick
  - execution model: advances open orders one tick and prices fills
  - portfolio: stores positions and account figures in memory

# Tick
 1. fetch bars, update indicators
 2. collect and resolve signals
 3. admit signals, materialize orders
 4. execute, apply fills, assert the margin invariant
 5. mark to market, liquidate on negative free margin
 6. append the equity row

At end of data every open position is liquidated.

# Produce
  - decisions, orders, fills, trades and equity rows to every Sink

# Sharded
  - one Kernel per run; runs share nothing
*/
package core
