package recipe

import (
	"fmt"
	"strconv"
	"strings"
)

type parser struct {
	toks []token
	pos  int
}

// Parse splits input on top-level semicolons and parses each statement.
func Parse(input string) ([]Statement, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	var stmts []Statement
	for {
		p.skipSemicolons()
		if p.at(tokEOF) {
			break
		}
		st, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	return stmts, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) at(k tokenKind) bool { return p.cur().kind == k }

func (p *parser) atKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokIdent && t.text == kw
}

func (p *parser) atPunct(s string) bool {
	t := p.cur()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) skipSemicolons() {
	for p.atPunct(";") {
		p.advance()
	}
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return fmt.Errorf("recipe: expected %q, got %q at position %d", kw, p.cur().raw, p.pos)
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(s string) error {
	if !p.atPunct(s) {
		return fmt.Errorf("recipe: expected %q, got %q at position %d", s, p.cur().raw, p.pos)
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent() (string, error) {
	if !p.at(tokIdent) {
		return "", fmt.Errorf("recipe: expected identifier, got %q at position %d", p.cur().raw, p.pos)
	}
	t := p.advance()
	return t.raw, nil
}

func (p *parser) parseStatement() (Statement, error) {
	if !p.atKeyword("CREATE") {
		return nil, fmt.Errorf("recipe: expected CREATE, got %q", p.cur().raw)
	}
	p.advance()
	switch {
	case p.atKeyword("TABLE"):
		p.advance()
		return p.parseCreateTable()
	case p.atKeyword("VIEW"):
		p.advance()
		return p.parseCreateView()
	case p.atKeyword("CACHE"):
		p.advance()
		return p.parseCreateCache()
	default:
		return nil, fmt.Errorf("recipe: unsupported CREATE statement %q", p.cur().raw)
	}
}

// --- CREATE TABLE ---

func (p *parser) parseCreateTable() (Statement, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}

	stmt := &CreateTableStmt{Name: name}
	for {
		if p.isKeyClauseStart() {
			key, err := p.parseTableKey()
			if err != nil {
				return nil, err
			}
			stmt.Keys = append(stmt.Keys, key)
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
		}
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) isKeyClauseStart() bool {
	switch {
	case p.atKeyword("PRIMARY"), p.atKeyword("UNIQUE"), p.atKeyword("FULLTEXT"),
		p.atKeyword("FOREIGN"), p.atKeyword("CHECK"), p.atKeyword("KEY"), p.atKeyword("CONSTRAINT"):
		return true
	}
	return false
}

// parseTableKey parses the table-level key clauses nom-sql/create.rs
// recognizes: PRIMARY KEY(cols), UNIQUE [KEY] [name](cols),
// FULLTEXT [KEY] [name](cols), [CONSTRAINT name] FOREIGN KEY [name](cols)
// REFERENCES table(cols), CHECK(expr).
func (p *parser) parseTableKey() (TableKey, error) {
	if p.atKeyword("CONSTRAINT") {
		p.advance()
		if p.at(tokIdent) && !p.atKeyword("FOREIGN") {
			p.advance() // constraint name, discarded (no runtime effect)
		}
	}
	switch {
	case p.atKeyword("PRIMARY"):
		p.advance()
		if err := p.expectKeyword("KEY"); err != nil {
			return TableKey{}, err
		}
		cols, err := p.parseColumnParenList()
		if err != nil {
			return TableKey{}, err
		}
		return TableKey{Kind: "PRIMARY", Columns: cols}, nil
	case p.atKeyword("UNIQUE"):
		p.advance()
		if p.atKeyword("KEY") {
			p.advance()
		}
		name := p.maybeIdent()
		cols, err := p.parseColumnParenList()
		if err != nil {
			return TableKey{}, err
		}
		return TableKey{Kind: "UNIQUE", Name: name, Columns: cols}, nil
	case p.atKeyword("FULLTEXT"):
		p.advance()
		if p.atKeyword("KEY") {
			p.advance()
		}
		name := p.maybeIdent()
		cols, err := p.parseColumnParenList()
		if err != nil {
			return TableKey{}, err
		}
		return TableKey{Kind: "FULLTEXT", Name: name, Columns: cols}, nil
	case p.atKeyword("FOREIGN"):
		p.advance()
		if err := p.expectKeyword("KEY"); err != nil {
			return TableKey{}, err
		}
		name := p.maybeIdent()
		cols, err := p.parseColumnParenList()
		if err != nil {
			return TableKey{}, err
		}
		if p.atKeyword("REFERENCES") {
			p.advance()
			if _, err := p.expectIdent(); err != nil {
				return TableKey{}, err
			}
			if p.atPunct("(") {
				if _, err := p.parseColumnParenList(); err != nil {
					return TableKey{}, err
				}
			}
		}
		return TableKey{Kind: "FOREIGN", Name: name, Columns: cols}, nil
	case p.atKeyword("CHECK"):
		p.advance()
		depth := 0
		if err := p.expectPunct("("); err != nil {
			return TableKey{}, err
		}
		depth++
		for depth > 0 {
			if p.atPunct("(") {
				depth++
			} else if p.atPunct(")") {
				depth--
				if depth == 0 {
					p.advance()
					break
				}
			}
			p.advance()
		}
		return TableKey{Kind: "CHECK"}, nil
	default:
		return TableKey{}, fmt.Errorf("recipe: unsupported key clause %q", p.cur().raw)
	}
}

func (p *parser) maybeIdent() string {
	if p.at(tokIdent) && !p.atPunct("(") {
		// A name is present only when the next-but-one token isn't the
		// opening paren of the column list.
		if p.toks[p.pos+1].kind == tokPunct && p.toks[p.pos+1].text == "(" {
			return p.advance().raw
		}
	}
	return ""
}

func (p *parser) parseColumnParenList() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		cols = append(cols, name)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return cols, nil
}

var knownTypes = map[string]bool{
	"INT": true, "INTEGER": true, "BIGINT": true, "SMALLINT": true,
	"DOUBLE": true, "FLOAT": true, "DECIMAL": true, "NUMERIC": true,
	"TEXT": true, "VARCHAR": true, "CHAR": true,
	"BOOLEAN": true, "BOOL": true,
	"DATETIME": true, "DATE": true, "TIMESTAMP": true,
}

func (p *parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.expectIdent()
	if err != nil {
		return ColumnDef{}, err
	}
	if !p.at(tokIdent) || !knownTypes[p.cur().text] {
		return ColumnDef{}, fmt.Errorf("recipe: expected a column type for %q, got %q", name, p.cur().raw)
	}
	typ := p.advance().text
	// Discard an optional (length[, scale]) precision specifier, e.g.
	// VARCHAR(255) or DECIMAL(10,2); the dataflow core's Value model
	// doesn't bound text length and tracks decimal scale at the value
	// level instead (flowtype.NewDecimal), not the column level.
	if p.atPunct("(") {
		p.advance()
		for !p.atPunct(")") {
			p.advance()
		}
		p.advance()
	}

	col := ColumnDef{Name: name, Type: typ, Nullable: true}
	for {
		switch {
		case p.atKeyword("NOT"):
			p.advance()
			if err := p.expectKeyword("NULL"); err != nil {
				return ColumnDef{}, err
			}
			col.Nullable = false
		case p.atKeyword("NULL"):
			p.advance()
			col.Nullable = true
		case p.atKeyword("PRIMARY"):
			p.advance()
			if err := p.expectKeyword("KEY"); err != nil {
				return ColumnDef{}, err
			}
			col.PrimaryKey = true
			col.Nullable = false
		case p.atKeyword("AUTO_INCREMENT") || p.atKeyword("SERIAL"):
			p.advance()
			col.AutoIncrement = true
		case p.atKeyword("DEFAULT"):
			p.advance()
			col.HasDefault = true
			col.Default = p.advance().raw
		default:
			return col, nil
		}
	}
}

// --- CREATE VIEW / CACHE ---

func (p *parser) parseCreateView() (Statement, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	return &CreateViewStmt{Name: name, Select: sel}, nil
}

func (p *parser) parseCreateCache() (Statement, error) {
	stmt := &CreateCacheStmt{}
	if p.atKeyword("ALWAYS") {
		p.advance()
		stmt.Always = true
	}
	// An optional cache name precedes FROM; distinguish it from an
	// omitted name by checking whether the next keyword is FROM.
	if p.at(tokIdent) && !p.atKeyword("FROM") {
		stmt.Name = p.advance().raw
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	if p.atKeyword("SELECT") {
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		stmt.Select = sel
		return stmt, nil
	}
	ref, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt.Query = ref
	return stmt, nil
}

// --- SELECT ---

func (p *parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &SelectStmt{}
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		sel.Columns = append(sel.Columns, item)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	sel.From = from

	if p.atKeyword("JOIN") || p.atKeyword("INNER") || p.atKeyword("LEFT") {
		join, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		sel.Join = join
	}

	if p.atKeyword("WHERE") {
		p.advance()
		preds, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		sel.Where = preds
	}

	if p.atKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		cols, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		sel.GroupBy = cols
	}

	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		sel.OrderBy = items
	}

	if p.atKeyword("LIMIT") {
		p.advance()
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		sel.Limit = n
		sel.HasLimit = true
	}

	if p.atKeyword("OFFSET") {
		p.advance()
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		sel.Offset = n
		sel.HasOffset = true
	}

	return sel, nil
}

func (p *parser) parseSelectItem() (SelectItem, error) {
	if p.atPunct("*") {
		p.advance()
		return SelectItem{Star: true}, nil
	}
	if p.at(tokIdent) && isAggName(p.cur().text) && p.toks[p.pos+1].kind == tokPunct && p.toks[p.pos+1].text == "(" {
		agg := p.advance().text
		p.advance() // "("
		var col string
		if p.atPunct("*") {
			p.advance()
			col = "*"
		} else {
			name, err := p.expectIdent()
			if err != nil {
				return SelectItem{}, err
			}
			col = name
		}
		if err := p.expectPunct(")"); err != nil {
			return SelectItem{}, err
		}
		item := SelectItem{Agg: agg, Column: col}
		item.Alias = p.maybeAlias()
		return item, nil
	}

	table, col, err := p.parseQualifiedIdent()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Table: table, Column: col}
	item.Alias = p.maybeAlias()
	return item, nil
}

func isAggName(name string) bool {
	switch name {
	case "COUNT", "SUM", "MIN", "MAX", "AVG":
		return true
	}
	return false
}

func (p *parser) maybeAlias() string {
	if p.atKeyword("AS") {
		p.advance()
		return p.advance().raw
	}
	return ""
}

func (p *parser) parseQualifiedIdent() (table, col string, err error) {
	first, err := p.expectIdent()
	if err != nil {
		return "", "", err
	}
	if p.atPunct(".") {
		p.advance()
		second, err := p.expectIdent()
		if err != nil {
			return "", "", err
		}
		return first, second, nil
	}
	return "", first, nil
}

func (p *parser) parseJoin() (*JoinClause, error) {
	left := false
	if p.atKeyword("INNER") {
		p.advance()
	} else if p.atKeyword("LEFT") {
		p.advance()
		left = true
		if p.atKeyword("OUTER") {
			p.advance()
		}
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	join := &JoinClause{Left: left, Table: table}

	if p.atKeyword("USING") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		join.OnL = col
		join.OnR = col
		return join, nil
	}

	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	lt, lc, err := p.parseQualifiedIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	rt, rc, err := p.parseQualifiedIdent()
	if err != nil {
		return nil, err
	}
	join.OnL = qualify(lt, lc)
	join.OnR = qualify(rt, rc)
	return join, nil
}

func qualify(table, col string) string {
	if table == "" {
		return col
	}
	return table + "." + col
}

func (p *parser) parseWhere() ([]Predicate, error) {
	var preds []Predicate
	for {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
		if p.atKeyword("AND") {
			p.advance()
			continue
		}
		break
	}
	return preds, nil
}

func (p *parser) parsePredicate() (Predicate, error) {
	_, col, err := p.parseQualifiedIdent()
	if err != nil {
		return Predicate{}, err
	}
	op, err := p.parseCompareOp()
	if err != nil {
		return Predicate{}, err
	}
	rhs := p.advance()
	return Predicate{Column: col, Op: op, RHS: rhs.raw}, nil
}

func (p *parser) parseCompareOp() (string, error) {
	switch {
	case p.atKeyword("LIKE"):
		p.advance()
		return "LIKE", nil
	case p.atKeyword("ILIKE"):
		p.advance()
		return "ILIKE", nil
	case p.atPunct("="):
		p.advance()
		return "=", nil
	case p.atPunct("!=") || p.atPunct("<>"):
		p.advance()
		return "!=", nil
	case p.atPunct("<="):
		p.advance()
		return "<=", nil
	case p.atPunct(">="):
		p.advance()
		return ">=", nil
	case p.atPunct("<"):
		p.advance()
		return "<", nil
	case p.atPunct(">"):
		p.advance()
		return ">", nil
	default:
		return "", fmt.Errorf("recipe: expected comparison operator, got %q", p.cur().raw)
	}
}

func (p *parser) parseIdentList() ([]string, error) {
	var out []string
	for {
		_, col, err := p.parseQualifiedIdent()
		if err != nil {
			return nil, err
		}
		out = append(out, col)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) parseOrderByList() ([]OrderItem, error) {
	var out []OrderItem
	for {
		_, col, err := p.parseQualifiedIdent()
		if err != nil {
			return nil, err
		}
		item := OrderItem{Column: col}
		if p.atKeyword("DESC") {
			p.advance()
			item.Desc = true
		} else if p.atKeyword("ASC") {
			p.advance()
		}
		out = append(out, item)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) expectNumber() (int, error) {
	if !p.at(tokNumber) {
		return 0, fmt.Errorf("recipe: expected a number, got %q", p.cur().raw)
	}
	t := p.advance()
	n, err := strconv.Atoi(strings.TrimSpace(t.text))
	if err != nil {
		return 0, fmt.Errorf("recipe: invalid integer literal %q: %w", t.text, err)
	}
	return n, nil
}
