// Package statemachine describes lifecycles of persisted entities as a table
// of allowed transitions. The table is stateless: callers pass the stored
// state and the requested one and get back an error for forbidden moves.
//
//	ledger := statemachine.NewBuilder[Status]().
//		Allow(Pending, Succeeded, Failed).
//		Allow(Succeeded, Refunded).
//		Terminal(Failed, Refunded).
//		Build()
//
//	if err := ledger.Check(row.Status, Refunded); err != nil {
//		return err
//	}
package statemachine
