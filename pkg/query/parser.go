package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/praetorian-inc/privmap/pkg/fault"
)

type token struct {
	text string
	pos  int
}

// Parse turns a query string into its typed AST. Malformed input yields a
// *fault.SyntaxError carrying the byte position of the failure.
func Parse(input string) (Query, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, syntaxErr(input, 0, "empty query")
	}

	p := &parser{input: input, tokens: tokens}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		return nil, syntaxErr(input, tok.pos, fmt.Sprintf("unexpected trailing input %q", tok.text))
	}
	return q, nil
}

// tokenize splits on whitespace, honoring single and double quotes so
// selectors may contain spaces.
func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		r := rune(input[i])
		if unicode.IsSpace(r) {
			i++
			continue
		}
		start := i
		if r == '\'' || r == '"' {
			quote := input[i]
			i++
			j := strings.IndexByte(input[i:], quote)
			if j < 0 {
				return nil, syntaxErr(input, start, "unterminated quote")
			}
			tokens = append(tokens, token{text: input[i : i+j], pos: start})
			i += j + 1
			continue
		}
		for i < len(input) && !unicode.IsSpace(rune(input[i])) {
			i++
		}
		tokens = append(tokens, token{text: input[start:i], pos: start})
	}
	return tokens, nil
}

type parser struct {
	input  string
	tokens []token
	idx    int
}

func (p *parser) peek() (token, bool) {
	if p.idx >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.idx], true
}

func (p *parser) next() (token, bool) {
	tok, ok := p.peek()
	if ok {
		p.idx++
	}
	return tok, ok
}

// expectKeyword consumes the next token iff it equals the keyword.
func (p *parser) expectKeyword(keyword string) error {
	tok, ok := p.peek()
	if !ok {
		return syntaxErr(p.input, len(p.input), fmt.Sprintf("expected %q", keyword))
	}
	if tok.text != keyword {
		return syntaxErr(p.input, tok.pos, fmt.Sprintf("expected %q, got %q", keyword, tok.text))
	}
	p.idx++
	return nil
}

func (p *parser) expectTerm(what string) (string, error) {
	tok, ok := p.next()
	if !ok {
		return "", syntaxErr(p.input, len(p.input), fmt.Sprintf("expected %s", what))
	}
	switch tok.text {
	case "preset", "can", "who", "do", "on", "reach":
		return "", syntaxErr(p.input, tok.pos, fmt.Sprintf("expected %s, got keyword %q", what, tok.text))
	}
	return tok.text, nil
}

func (p *parser) parseQuery() (Query, error) {
	tok, _ := p.next()
	switch tok.text {
	case "preset":
		return p.parsePreset()
	case "can":
		return p.parseCan()
	case "who":
		return p.parseWho()
	case "reach":
		return p.parseReach()
	default:
		return nil, syntaxErr(p.input, tok.pos, fmt.Sprintf("unknown query form %q", tok.text))
	}
}

func (p *parser) parsePreset() (Query, error) {
	name, err := p.expectTerm("preset name")
	if err != nil {
		return nil, err
	}
	var args []string
	for {
		tok, ok := p.next()
		if !ok {
			break
		}
		args = append(args, tok.text)
	}
	return &PresetQuery{Name: name, Args: args}, nil
}

func (p *parser) parseCan() (Query, error) {
	principal, err := p.expectTerm("principal selector")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	action, err := p.expectTerm("action")
	if err != nil {
		return nil, err
	}
	q := &CanQuery{Principal: principal, Action: action, Resource: "*"}
	if tok, ok := p.peek(); ok && tok.text == "on" {
		p.idx++
		resource, err := p.expectTerm("resource")
		if err != nil {
			return nil, err
		}
		q.Resource = resource
	}
	return q, nil
}

func (p *parser) parseWho() (Query, error) {
	if err := p.expectKeyword("can"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	action, err := p.expectTerm("action")
	if err != nil {
		return nil, err
	}
	q := &WhoQuery{Action: action, Resource: "*"}
	if tok, ok := p.peek(); ok && tok.text == "on" {
		p.idx++
		resource, err := p.expectTerm("resource")
		if err != nil {
			return nil, err
		}
		q.Resource = resource
	}
	return q, nil
}

func (p *parser) parseReach() (Query, error) {
	source, err := p.expectTerm("source selector")
	if err != nil {
		return nil, err
	}
	target, err := p.expectTerm("target selector")
	if err != nil {
		return nil, err
	}
	return &ReachQuery{Source: source, Target: target}, nil
}

func syntaxErr(input string, pos int, msg string) error {
	return &fault.SyntaxError{Input: input, Position: pos, Message: msg}
}
