// Package internaldefs holds the metric names, help strings and bucket bounds
// exporters render the engine's counters with.
package internaldefs
