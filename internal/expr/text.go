// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// The text shorthand is a compact call syntax that decodes to the same tree
// as the JSON encoding:
//
//	or(eq(isPublic, true), eq(authorId, user.id))
//
// Bare dotted identifiers are field references, field("a.b") is the explicit
// form, if(c, t, e) is a conditional and every other call is an operation.

var textLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`},
	{Name: "Ident", Pattern: `[a-zA-Z_$][\w$]*`},
	{Name: "Dot", Pattern: `\.`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "whitespace", Pattern: `\s+`},
})

type textTerm struct {
	Pos    lexer.Position `parser:""`
	Number *float64       `parser:"  @Number"`
	String *string        `parser:"| @String"`
	True   bool           `parser:"| @'true'"`
	False  bool           `parser:"| @'false'"`
	Null   bool           `parser:"| @'null'"`
	Ref    *textRef       `parser:"| @@"`
}

type textRef struct {
	Pos  lexer.Position `parser:""`
	Path []string       `parser:"@Ident (Dot @Ident)*"`
	Call *textCall      `parser:"@@?"`
}

type textCall struct {
	Open string      `parser:"@'('"`
	Args []*textTerm `parser:"(@@ (',' @@)*)? ')'"`
}

var textParser = participle.MustBuild[textTerm](
	participle.Lexer(textLexer),
	participle.Unquote("String"),
)

// ParseText parses the text shorthand into an expression tree.
func ParseText(src string) (Node, error) {
	term, err := textParser.ParseString("", src)
	if err != nil {
		return nil, oops.Code(CodeMalformedExpression).Wrapf(err, "parsing expression text")
	}
	return term.toNode(0)
}

// MustParseText is ParseText for expressions known at compile time.
func MustParseText(src string) Node {
	n, err := ParseText(src)
	if err != nil {
		panic(fmt.Sprintf("expr: %v", err))
	}
	return n
}

func (t *textTerm) toNode(depth int) (Node, error) {
	if depth > MaxDecodeDepth {
		return nil, errMalformed("expression nesting exceeds %d levels", MaxDecodeDepth)
	}
	switch {
	case t.Number != nil:
		return &Literal{Value: *t.Number}, nil
	case t.String != nil:
		return &Literal{Value: *t.String}, nil
	case t.True:
		return &Literal{Value: true}, nil
	case t.False:
		return &Literal{Value: false}, nil
	case t.Null:
		return &Literal{Value: nil}, nil
	case t.Ref != nil:
		return t.Ref.toNode(depth)
	default:
		return nil, errMalformed("empty expression at %s", t.Pos)
	}
}

func (r *textRef) toNode(depth int) (Node, error) {
	path := strings.Join(r.Path, ".")
	if r.Call == nil {
		return &FieldRef{Path: path}, nil
	}
	if len(r.Path) != 1 {
		return nil, errMalformed("%s: call target must be a plain name", r.Pos)
	}
	name := r.Path[0]
	switch name {
	case "field":
		if len(r.Call.Args) != 1 || r.Call.Args[0].String == nil {
			return nil, errMalformed("%s: field() takes one string argument", r.Pos)
		}
		return &FieldRef{Path: *r.Call.Args[0].String}, nil
	case "if":
		if len(r.Call.Args) != 3 {
			return nil, errMalformed("%s: if() takes three arguments", r.Pos)
		}
	}

	var args []Node
	for _, a := range r.Call.Args {
		n, err := a.toNode(depth + 1)
		if err != nil {
			return nil, err
		}
		args = append(args, n)
	}
	if name == "if" {
		return &Conditional{Cond: args[0], Then: args[1], Else: args[2]}, nil
	}
	return &Operation{Op: name, Args: args}, nil
}
