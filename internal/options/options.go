package options

import (
	"bytes"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Tokenize splits a user supplied option string into words using shell
// quoting rules. Nothing is expanded: parameter references, command
// substitutions and a leading ~ are kept as written, so the options reach
// the container CLI verbatim apart from quote removal.
func Tokenize(src string) ([]string, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(src), "")
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize %q: %w", src, err)
	}

	var fields []string
	for _, stmt := range file.Stmts {
		call, ok := stmt.Cmd.(*syntax.CallExpr)
		if !ok || stmt.Negated || stmt.Background || stmt.Coprocess || len(stmt.Redirs) > 0 {
			return nil, fmt.Errorf("failed to tokenize %q: only plain words are allowed", src)
		}
		for _, assign := range call.Assigns {
			value := ""
			if assign.Value != nil {
				value = literal(assign.Value, false)
			}
			fields = append(fields, assign.Name.Value+"="+value)
		}
		for _, word := range call.Args {
			fields = append(fields, literal(word, false))
		}
	}
	return fields, nil
}

// literal returns word with its quotes removed and everything else as it
// appears in the source.
func literal(word *syntax.Word, quoted bool) string {
	var sb strings.Builder
	writeParts(&sb, word.Parts, quoted)
	return sb.String()
}

func writeParts(sb *strings.Builder, parts []syntax.WordPart, quoted bool) {
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value, quoted))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			writeParts(sb, p.Parts, true)
		default:
			sb.WriteString(source(part))
		}
	}
}

// unescape drops the backslashes the shell would remove. Inside double
// quotes only \$, \`, \", \\ and a line continuation are escapes.
func unescape(s string, quoted bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			sb.WriteByte(s[i])
			continue
		}
		next := s[i+1]
		switch {
		case next == '\n':
			i++
		case !quoted || strings.IndexByte("$`\"\\", next) >= 0:
			sb.WriteByte(next)
			i++
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// source prints a word part back in shell syntax.
func source(part syntax.WordPart) string {
	var buf bytes.Buffer
	if err := syntax.NewPrinter().Print(&buf, part); err != nil {
		return ""
	}
	return buf.String()
}

// Names splits an allowlist string into variable names. Names may be
// separated by whitespace or commas; duplicates keep their first position.
func Names(src string) []string {
	fields := strings.FieldsFunc(src, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	seen := make(map[string]bool, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		names = append(names, f)
	}
	return names
}
