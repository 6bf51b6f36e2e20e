package keycell

import "context"

// HealthChecker reports whether the cell holds a usable key.
// Implements health.Checker.
type HealthChecker struct {
	cell *Cell
}

// NewHealthChecker creates a health checker for the given cell.
func NewHealthChecker(cell *Cell) *HealthChecker {
	return &HealthChecker{cell: cell}
}

// Check returns true if a fresh key is available.
func (c *HealthChecker) Check(_ context.Context) bool {
	_, err := c.cell.Get()
	return err == nil
}
