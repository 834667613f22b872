// Copyright (C) 2023 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package table

import "github.com/SnellerInc/spindle/sats"

// Visitor is a precompiled program that, given the
// fixed bytes of a row, emits the offset of every
// VarLenRef embedded in it, including refs behind
// sum-type discriminants. It is compiled once per
// schema and shared by all pages of a table.
type Visitor struct {
	insns []visitInsn
}

type visitOp uint8

const (
	opVarLen visitOp = iota // emit ref at off
	opSwitch                // jump to jmp[row[off]]
	opJump                  // jump to off
)

type visitInsn struct {
	op  visitOp
	off uint16
	jmp []uint16 // opSwitch only, indexed by tag
}

// CompileVisitor builds the visitor program for a row
// type. Types with no var-len members compile to an
// empty program.
func CompileVisitor(t *sats.Type) Visitor {
	var v Visitor
	v.compile(t, 0)
	return v
}

func (v *Visitor) compile(t *sats.Type, base int) {
	switch t.Kind {
	case sats.StringKind, sats.BytesKind, sats.ArrayKind:
		v.insns = append(v.insns, visitInsn{op: opVarLen, off: uint16(base)})
	case sats.ProductKind:
		for i := range t.Fields {
			v.compile(t.Fields[i].Type, base+fieldOffset(t, i))
		}
	case sats.SumKind:
		if !sumHasVarLen(t) {
			return
		}
		sw := len(v.insns)
		v.insns = append(v.insns, visitInsn{op: opSwitch, off: uint16(base), jmp: make([]uint16, len(t.Variants))})
		payloadBase := base + payloadOffset(FixedSize(t).Align)
		var jumps []int // opJump slots to backpatch to the end
		for i := range t.Variants {
			v.insns[sw].jmp[i] = uint16(len(v.insns))
			if vt := t.Variants[i].Type; vt != nil {
				v.compile(vt, payloadBase)
			}
			if i+1 < len(t.Variants) {
				jumps = append(jumps, len(v.insns))
				v.insns = append(v.insns, visitInsn{op: opJump})
			}
		}
		end := uint16(len(v.insns))
		for _, j := range jumps {
			v.insns[j].off = end
		}
	}
}

func sumHasVarLen(t *sats.Type) bool {
	switch t.Kind {
	case sats.StringKind, sats.BytesKind, sats.ArrayKind:
		return true
	case sats.ProductKind:
		for i := range t.Fields {
			if sumHasVarLen(t.Fields[i].Type) {
				return true
			}
		}
	case sats.SumKind:
		for i := range t.Variants {
			if t.Variants[i].Type != nil && sumHasVarLen(t.Variants[i].Type) {
				return true
			}
		}
	}
	return false
}

// Empty reports whether the program emits no offsets
// for any row.
func (v *Visitor) Empty() bool { return len(v.insns) == 0 }

// Visit runs the program against row, calling emit
// with the offset of each embedded VarLenRef.
func (v *Visitor) Visit(row []byte, emit func(off int)) {
	pc := 0
	for pc < len(v.insns) {
		in := &v.insns[pc]
		switch in.op {
		case opVarLen:
			emit(int(in.off))
			pc++
		case opSwitch:
			tag := row[in.off]
			if int(tag) >= len(in.jmp) {
				return // corrupt row; nothing safe to emit
			}
			pc = int(in.jmp[tag])
		case opJump:
			pc = int(in.off)
		}
	}
}
