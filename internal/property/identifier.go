// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package property

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// identifierLexer tokenizes material identifiers of the form "CODE" or
// "CODE (TYPE)".
var identifierLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[A-Za-z0-9_\-.:+]+`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// identifierAST is the parse tree of a material identifier.
//
// Grammar: code [ "(" type ")" ]
type identifierAST struct {
	Code string `parser:"@Ident"`
	Type string `parser:"( '(' @Ident ')' )?"`
}

var identifierParser = participle.MustBuild[identifierAST](
	participle.Lexer(identifierLexer),
)

// MaterialIdentifier identifies a material by code and material type code.
type MaterialIdentifier struct {
	Code     string
	TypeCode string
}

// String prints the identifier as "CODE (TYPE)", or just the code when the
// type is unknown.
func (m MaterialIdentifier) String() string {
	if m.TypeCode == "" {
		return m.Code
	}
	return fmt.Sprintf("%s (%s)", m.Code, m.TypeCode)
}

// HasType reports whether the identifier names a material type.
func (m MaterialIdentifier) HasType() bool {
	return m.TypeCode != ""
}

// Equal compares identifiers case-insensitively.
func (m MaterialIdentifier) Equal(other MaterialIdentifier) bool {
	return strings.EqualFold(m.Code, other.Code) && strings.EqualFold(m.TypeCode, other.TypeCode)
}

// ParseMaterialIdentifier parses "CODE" or "CODE (TYPE)". A bare code yields
// an identifier without a type.
func ParseMaterialIdentifier(s string) (MaterialIdentifier, error) {
	if strings.TrimSpace(s) == "" {
		return MaterialIdentifier{}, oops.Code("MATERIAL_IDENTIFIER_INVALID").Errorf("material identifier is empty")
	}
	ast, err := identifierParser.ParseString("", s)
	if err != nil {
		return MaterialIdentifier{}, oops.Code("MATERIAL_IDENTIFIER_INVALID").With("identifier", s).Wrapf(err, "parsing material identifier")
	}
	return MaterialIdentifier{Code: ast.Code, TypeCode: ast.Type}, nil
}
