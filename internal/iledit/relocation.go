package iledit

import "github.com/roach88/nullguard/internal/ir"

// SiteKind identifies which kind of operand references an instruction.
type SiteKind uint8

const (
	SiteBranch SiteKind = iota
	SiteSwitchCase
	SiteTryStart
	SiteTryEnd
	SiteHandlerStart
	SiteHandlerEnd
)

var siteKindNames = [...]string{
	SiteBranch:       "branch",
	SiteSwitchCase:   "switch",
	SiteTryStart:     "try-start",
	SiteTryEnd:       "try-end",
	SiteHandlerStart: "handler-start",
	SiteHandlerEnd:   "handler-end",
}

func (k SiteKind) String() string {
	if int(k) < len(siteKindNames) {
		return siteKindNames[k]
	}
	return "unknown"
}

// Site is one pointer to an instruction.
type Site struct {
	Kind    SiteKind
	Owner   *ir.Instruction      // branch or switch instruction
	Case    int                  // switch case index
	Handler *ir.ExceptionHandler // exception handler boundary
}

// Relocation records every pointer to one logical exit point.
type Relocation struct {
	From  *ir.Instruction
	To    *ir.Instruction
	Sites []Site
}

// CollectPointers scans branch operands, switch tables and exception handler
// boundaries for references to target.
func CollectPointers(body *ir.Body, target *ir.Instruction) Relocation {
	reloc := Relocation{From: target}
	for _, in := range body.Instructions {
		switch {
		case in.OpCode.IsBranch():
			if in.Target() == target {
				reloc.Sites = append(reloc.Sites, Site{Kind: SiteBranch, Owner: in})
			}
		case in.OpCode == ir.OpSwitch:
			for i, t := range in.Targets() {
				if t == target {
					reloc.Sites = append(reloc.Sites, Site{Kind: SiteSwitchCase, Owner: in, Case: i})
				}
			}
		}
	}
	for _, h := range body.ExceptionHandlers {
		if h.TryStart == target {
			reloc.Sites = append(reloc.Sites, Site{Kind: SiteTryStart, Handler: h})
		}
		if h.TryEnd == target {
			reloc.Sites = append(reloc.Sites, Site{Kind: SiteTryEnd, Handler: h})
		}
		if h.HandlerStart == target {
			reloc.Sites = append(reloc.Sites, Site{Kind: SiteHandlerStart, Handler: h})
		}
		if h.HandlerEnd == target {
			reloc.Sites = append(reloc.Sites, Site{Kind: SiteHandlerEnd, Handler: h})
		}
	}
	return reloc
}

// Apply points every collected site at to.
func (r *Relocation) Apply(to *ir.Instruction) {
	r.To = to
	for _, s := range r.Sites {
		switch s.Kind {
		case SiteBranch:
			s.Owner.Operand = to
		case SiteSwitchCase:
			s.Owner.Targets()[s.Case] = to
		case SiteTryStart:
			s.Handler.TryStart = to
		case SiteTryEnd:
			s.Handler.TryEnd = to
		case SiteHandlerStart:
			s.Handler.HandlerStart = to
		case SiteHandlerEnd:
			s.Handler.HandlerEnd = to
		}
	}
}

// Len returns the number of redirected pointers.
func (r Relocation) Len() int { return len(r.Sites) }

// RelocationMap maps old logical exit points to their new first instruction
// across several insertions into one body.
type RelocationMap map[*ir.Instruction]*ir.Instruction

// Record adds an applied relocation.
func (m RelocationMap) Record(r Relocation) {
	if r.From != nil && r.To != nil {
		m[r.From] = r.To
	}
}
