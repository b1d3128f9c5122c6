package iledit

import (
	"errors"
	"fmt"

	"github.com/roach88/nullguard/internal/ir"
)

var (
	// ErrEmptyBlock is returned when asked to insert nothing.
	ErrEmptyBlock = errors.New("iledit: empty instruction block")

	// ErrNotInBody is returned when the anchor instruction is not part of the body.
	ErrNotInBody = errors.New("iledit: instruction not in body")
)

// Prepend inserts block at method entry.
func Prepend(body *ir.Body, block []*ir.Instruction) error {
	if len(block) == 0 {
		return ErrEmptyBlock
	}
	body.Insert(0, block...)
	return nil
}

// InsertBefore inserts block immediately before at, leaving every pointer to
// at untouched.
func InsertBefore(body *ir.Body, at *ir.Instruction, block []*ir.Instruction) error {
	if len(block) == 0 {
		return ErrEmptyBlock
	}
	idx := body.IndexOf(at)
	if idx < 0 {
		return fmt.Errorf("insert before %s: %w", at.OpCode, ErrNotInBody)
	}
	body.Insert(idx, block...)
	return nil
}

// InsertAtLogicalReturnPoint inserts block before exit and redirects every
// pointer that targeted exit to block[0]. The returned Relocation has already
// been applied; callers use it for reporting.
func InsertAtLogicalReturnPoint(body *ir.Body, exit *ir.Instruction, block []*ir.Instruction) (Relocation, error) {
	if len(block) == 0 {
		return Relocation{}, ErrEmptyBlock
	}
	if body.IndexOf(exit) < 0 {
		return Relocation{}, fmt.Errorf("insert at return point %s: %w", exit.OpCode, ErrNotInBody)
	}

	// 1. collect, 2. insert, 3. redirect. The order is load-bearing: the
	// block's own branches to exit must not be redirected.
	reloc := CollectPointers(body, exit)
	if err := InsertBefore(body, exit, block); err != nil {
		return Relocation{}, err
	}
	reloc.Apply(block[0])
	return reloc, nil
}
