package resultstore

import (
	"database/sql"

	"gorm.io/gorm"
)

// FrameCursor lazily iterates over a run's frame rows in deterministic
// order. Cursors are finite and single-use; call QueryFrames again to
// restart from the beginning. The caller must Close the cursor.
type FrameCursor struct {
	db   *gorm.DB
	rows *sql.Rows
	cur  Frame
	err  error
}

// Next advances to the next frame. It returns false when the cursor is
// exhausted or an error occurred; check Err after iteration.
func (c *FrameCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}

	c.cur = Frame{}
	if err := c.db.ScanRows(c.rows, &c.cur); err != nil {
		c.err = err

		return false
	}

	return true
}

// Frame returns the row the cursor currently points at. Only valid after
// a Next call that returned true.
func (c *FrameCursor) Frame() *Frame {
	return &c.cur
}

// Err returns the first error encountered during iteration.
func (c *FrameCursor) Err() error {
	if c.err != nil {
		return c.err
	}

	return c.rows.Err()
}

// Close releases the underlying result set.
func (c *FrameCursor) Close() error {
	return c.rows.Close()
}

// CycleCursor lazily iterates over a run's cycle rows in cycle order.
// Same contract as FrameCursor.
type CycleCursor struct {
	db   *gorm.DB
	rows *sql.Rows
	cur  Cycle
	err  error
}

// Next advances to the next cycle row.
func (c *CycleCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}

	c.cur = Cycle{}
	if err := c.db.ScanRows(c.rows, &c.cur); err != nil {
		c.err = err

		return false
	}

	return true
}

// Cycle returns the row the cursor currently points at. Only valid after
// a Next call that returned true.
func (c *CycleCursor) Cycle() *Cycle {
	return &c.cur
}

// Err returns the first error encountered during iteration.
func (c *CycleCursor) Err() error {
	if c.err != nil {
		return c.err
	}

	return c.rows.Err()
}

// Close releases the underlying result set.
func (c *CycleCursor) Close() error {
	return c.rows.Close()
}
