package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenOp     // == != < <= > >=
	tokenAnd    // and / &&
	tokenOr     // or / ||
	tokenNot    // not / !
	tokenLParen // (
	tokenRParen // )
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a condition expression into tokens. Keywords are matched
// case-insensitively; == can also be spelled = for YAML friendliness.
func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++

		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++

		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal at position %d", i)
			}
			tokens = append(tokens, token{tokenString, string(runes[i+1 : j]), i})
			i = j + 1

		case c == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, "==", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOp, "==", i})
				i++
			}
		case c == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, "!=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenNot, "!", i})
				i++
			}
		case c == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, "<=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOp, "<", i})
				i++
			}
		case c == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, ">=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOp, ">", i})
				i++
			}

		case c == '&':
			if i+1 < len(runes) && runes[i+1] == '&' {
				tokens = append(tokens, token{tokenAnd, "&&", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
			}
		case c == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				tokens = append(tokens, token{tokenOr, "||", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
			}

		case unicode.IsDigit(c) || (c == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == 'e' ||
				runes[j] == 'E' || runes[j] == '+' || runes[j] == '-') {
				// Allow exponent signs only right after e/E.
				if (runes[j] == '+' || runes[j] == '-') && !(runes[j-1] == 'e' || runes[j-1] == 'E') {
					break
				}
				j++
			}
			tokens = append(tokens, token{tokenNumber, string(runes[i:j]), i})
			i = j

		case unicode.IsLetter(c) || c == '_':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			switch strings.ToLower(word) {
			case "and":
				tokens = append(tokens, token{tokenAnd, word, i})
			case "or":
				tokens = append(tokens, token{tokenOr, word, i})
			case "not":
				tokens = append(tokens, token{tokenNot, word, i})
			default:
				tokens = append(tokens, token{tokenIdent, word, i})
			}
			i = j

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}

	tokens = append(tokens, token{tokenEOF, "", len(runes)})
	return tokens, nil
}
