/*
Package dsl provides a fluent builder for protocol versions.

It lets tests and tools declare a triage decision tree in Go instead of a JSON or
YAML document. Nodes keep declaration order, so the first non-terminal node
declared is the entry point, and branch rules keep the order they were added in.

Example usage:

	v, err := dsl.New("fever", 1).Active().
		Question("entry", "Fever?").When("Yes", "feverYes").Otherwise("low").
		Action("feverYes", "Check temperature").Score(5).Otherwise("high").
		Terminal("high", "High").
		Terminal("low", "Low").
		Build()
*/
package dsl
