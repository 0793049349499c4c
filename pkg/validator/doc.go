// Package validator runs declarative field rules and reports every failure at
// once as ValidationErrors:
//
//	err := validator.Apply(
//		validator.Required("name", in.Name),
//		validator.NonNegativeDecimal("price", in.Price),
//	)
package validator
