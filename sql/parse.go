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

package sql

// Parse parses one SELECT statement. Unsupported
// clauses (ORDER BY, LIMIT, GROUP BY, DISTINCT) and
// aggregate-looking calls produce an error rather
// than being ignored.
func Parse(query string) (*Select, error) {
	p := &parser{s: scanner{from: query}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.s.errorf(p.tok.pos, "unexpected %q after query", p.tok.text)
	}
	return sel, nil
}

type parser struct {
	s   scanner
	tok token
}

func (p *parser) advance() error {
	tok, err := p.s.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	if p.tok.kind != tokKeyword || p.tok.text != kw {
		return p.s.errorf(p.tok.pos, "expected %s, found %q", kw, p.tok.text)
	}
	return p.advance()
}

func (p *parser) expectPunct(text string) error {
	if p.tok.kind != tokPunct || p.tok.text != text {
		return p.s.errorf(p.tok.pos, "expected %q, found %q", text, p.tok.text)
	}
	return p.advance()
}

func (p *parser) ident() (string, error) {
	if p.tok.kind != tokIdent {
		return "", p.s.errorf(p.tok.pos, "expected identifier, found %q", p.tok.text)
	}
	name := p.tok.text
	return name, p.advance()
}

func (p *parser) parseSelect() (*Select, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	if p.tok.kind == tokKeyword && p.tok.text == "DISTINCT" {
		return nil, p.s.errorf(p.tok.pos, "DISTINCT is not supported in subscriptions")
	}
	sel := &Select{}
	if p.tok.kind == tokPunct && p.tok.text == "*" {
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		for {
			ref, err := p.fieldRef()
			if err != nil {
				return nil, err
			}
			sel.Columns = append(sel.Columns, ref)
			if p.tok.kind == tokPunct && p.tok.text == "," {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.tableRef()
	if err != nil {
		return nil, err
	}
	sel.From = from
	for p.tok.kind == tokKeyword && p.tok.text == "JOIN" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		join, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, join)
	}
	if p.tok.kind == tokKeyword && p.tok.text == "WHERE" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		sel.Where = where
	}
	if p.tok.kind == tokKeyword {
		switch p.tok.text {
		case "ORDER", "LIMIT", "GROUP", "HAVING":
			return nil, p.s.errorf(p.tok.pos, "%s is not supported in subscriptions", p.tok.text)
		}
	}
	return sel, nil
}

func (p *parser) tableRef() (TableRef, error) {
	name, err := p.ident()
	if err != nil {
		return TableRef{}, err
	}
	ref := TableRef{Name: name}
	if p.tok.kind == tokKeyword && p.tok.text == "AS" {
		if err := p.advance(); err != nil {
			return TableRef{}, err
		}
		alias, err := p.ident()
		if err != nil {
			return TableRef{}, err
		}
		ref.Alias = alias
	} else if p.tok.kind == tokIdent {
		ref.Alias = p.tok.text
		if err := p.advance(); err != nil {
			return TableRef{}, err
		}
	}
	return ref, nil
}

func (p *parser) parseJoin() (Join, error) {
	tbl, err := p.tableRef()
	if err != nil {
		return Join{}, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return Join{}, err
	}
	lhs, err := p.fieldRef()
	if err != nil {
		return Join{}, err
	}
	if err := p.expectPunct("="); err != nil {
		return Join{}, err
	}
	rhs, err := p.fieldRef()
	if err != nil {
		return Join{}, err
	}
	return Join{Table: tbl, Lhs: lhs, Rhs: rhs}, nil
}

// fieldRef parses ident or ident.ident.
func (p *parser) fieldRef() (FieldRef, error) {
	name, err := p.ident()
	if err != nil {
		return FieldRef{}, err
	}
	if p.tok.kind == tokPunct && p.tok.text == "." {
		if err := p.advance(); err != nil {
			return FieldRef{}, err
		}
		col, err := p.ident()
		if err != nil {
			return FieldRef{}, err
		}
		return FieldRef{Table: name, Name: col}, nil
	}
	if p.tok.kind == tokPunct && p.tok.text == "(" {
		return FieldRef{}, p.s.errorf(p.tok.pos, "function calls and aggregates are not supported")
	}
	return FieldRef{Name: name}, nil
}

// precedence: OR < AND < NOT < comparison
func (p *parser) parseOr() (Expr, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokKeyword && p.tok.text == "OR" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &Logical{And: false, Lhs: lhs, Rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (Expr, error) {
	lhs, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokKeyword && p.tok.text == "AND" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		lhs = &Logical{And: true, Lhs: lhs, Rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.tok.kind == tokKeyword && p.tok.text == "NOT" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (Expr, error) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokPunct {
		return lhs, nil
	}
	var op CmpOp
	switch p.tok.text {
	case "=":
		op = Eq
	case "<>":
		op = Ne
	case "<":
		op = Lt
	case "<=":
		op = Le
	case ">":
		op = Gt
	case ">=":
		op = Ge
	default:
		return lhs, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	rhs, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &Cmp{Op: op, Lhs: lhs, Rhs: rhs}, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.tok.kind {
	case tokPunct:
		if p.tok.text == "(" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			// a parenthesized SELECT is a subquery
			if p.tok.kind == tokKeyword && p.tok.text == "SELECT" {
				return nil, p.s.errorf(p.tok.pos, "subqueries are not supported")
			}
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return inner, nil
		}
	case tokKeyword:
		switch p.tok.text {
		case "TRUE", "FALSE":
			lit := &Lit{Kind: BoolLit, Bool: p.tok.text == "TRUE"}
			return lit, p.advance()
		case "NOT":
			return p.parseNot()
		}
	case tokInt:
		lit := &Lit{Kind: IntLit, Int: p.tok.ival}
		return lit, p.advance()
	case tokFloat:
		lit := &Lit{Kind: FloatLit, Float: p.tok.fval}
		return lit, p.advance()
	case tokString:
		lit := &Lit{Kind: StringLit, Str: p.tok.text}
		return lit, p.advance()
	case tokIdent:
		ref, err := p.fieldRef()
		if err != nil {
			return nil, err
		}
		return &Field{Ref: ref}, nil
	}
	return nil, p.s.errorf(p.tok.pos, "unexpected %q in expression", p.tok.text)
}
