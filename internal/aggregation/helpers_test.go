package aggregation

import "MultiBridge/internal/state"

// beginTxn opens a transaction on the engine's storage.
func beginTxn(e *Engine) *state.Txn {
	return state.Begin(e.db)
}
