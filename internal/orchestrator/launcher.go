package orchestrator

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"mvdan.cc/sh/v3/syntax"
)

var launcherTemplate = template.Must(template.New("launcher").
	Funcs(template.FuncMap{"quote": quote}).
	Parse(`#!/bin/bash
cd {{ quote .Dir }}
{{ range .Environment }}export {{ .Name }}={{ quote .Value }}
{{ end }}exec {{ with .Wrapper }}{{ quote . }} {{ end }}{{ quote .Python }} {{ quote .Entrypoint }} "$@"
`))

type launcherData struct {
	Dir         string
	Environment []plan.EnvVar
	Wrapper     string
	Python      string
	Entrypoint  string
}

func quote(s string) (string, error) {
	return syntax.Quote(s, syntax.LangBash)
}

// LauncherGenerator writes the start script for the application
type LauncherGenerator struct {
	plan   plan.Plan
	logger zerolog.Logger
}

func NewLauncherGenerator(p plan.Plan, logger zerolog.Logger) *LauncherGenerator {
	return &LauncherGenerator{
		plan:   p,
		logger: logger.With().Str("service", "launcher_generator").Logger(),
	}
}

// Render returns the script for pctx. The result has been parsed and checked.
func (g *LauncherGenerator) Render(pctx models.ProvisioningContext) ([]byte, error) {
	data := launcherData{
		Dir:         pctx.TargetDir,
		Environment: g.plan.Launcher.Environment,
		Wrapper:     g.plan.Launcher.Wrapper,
		Python:      g.plan.Python.Binary,
		Entrypoint:  g.plan.Launcher.Entrypoint,
	}

	var buf bytes.Buffer
	if err := launcherTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %w", bootstraperrors.ErrLauncherInvalid, err)
	}
	script := buf.Bytes()

	info, err := InspectLauncher(script)
	if err != nil {
		return nil, err
	}
	if err := info.check(data); err != nil {
		return nil, err
	}
	return script, nil
}

// Write renders the script and writes it with mode 0755, replacing any previous file
func (g *LauncherGenerator) Write(pctx models.ProvisioningContext) (string, error) {
	script, err := g.Render(pctx)
	if err != nil {
		return "", err
	}

	path := pctx.Path(g.plan.Launcher.Path)
	if err := os.WriteFile(path, script, 0o755); err != nil {
		return "", fmt.Errorf("failed to write launcher %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file and is subject to umask
	if err := os.Chmod(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to chmod launcher %s: %w", path, err)
	}

	g.logger.Info().
		Str("path", path).
		Int("exports", len(g.plan.Launcher.Environment)).
		Msg("launcher written")
	return path, nil
}

// LauncherInfo is what a launcher script does, read back from its syntax tree
type LauncherInfo struct {
	Dirs    []string            // arguments of every cd
	Exports map[string][]string // values assigned per exported name
	Exec    []string            // arguments of the final exec
}

// InspectLauncher parses script and collects its cd, export and exec commands
func InspectLauncher(script []byte) (LauncherInfo, error) {
	file, err := syntax.NewParser().Parse(bytes.NewReader(script), "launcher")
	if err != nil {
		return LauncherInfo{}, fmt.Errorf("%w: %w", bootstraperrors.ErrLauncherInvalid, err)
	}

	info := LauncherInfo{Exports: map[string][]string{}}
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.DeclClause:
			if n.Variant == nil || n.Variant.Value != "export" {
				return true
			}
			for _, assign := range n.Args {
				if assign.Name == nil {
					continue
				}
				info.Exports[assign.Name.Value] = append(info.Exports[assign.Name.Value], wordValue(assign.Value))
			}
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				return true
			}
			switch wordValue(n.Args[0]) {
			case "cd":
				if len(n.Args) > 1 {
					info.Dirs = append(info.Dirs, wordValue(n.Args[1]))
				}
			case "exec":
				info.Exec = info.Exec[:0]
				for _, arg := range n.Args[1:] {
					info.Exec = append(info.Exec, wordValue(arg))
				}
			}
		}
		return true
	})
	return info, nil
}

func (info LauncherInfo) check(data launcherData) error {
	var problems []string

	if len(info.Dirs) != 1 || info.Dirs[0] != data.Dir {
		problems = append(problems, fmt.Sprintf("expected a single cd to %s, got %v", data.Dir, info.Dirs))
	}
	for _, v := range data.Environment {
		values := info.Exports[v.Name]
		switch {
		case len(values) != 1:
			problems = append(problems, fmt.Sprintf("%s exported %d times", v.Name, len(values)))
		case values[0] != v.Value:
			problems = append(problems, fmt.Sprintf("%s exported as %q", v.Name, values[0]))
		}
	}
	if len(info.Exec) == 0 {
		problems = append(problems, "no exec")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", bootstraperrors.ErrLauncherInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// wordValue returns the literal value of a word, resolving quotes. Expansions
// are kept in their source form.
func wordValue(word *syntax.Word) string {
	if word == nil {
		return ""
	}

	var sb strings.Builder
	var walk func(parts []syntax.WordPart, quoted bool)
	walk = func(parts []syntax.WordPart, quoted bool) {
		for _, part := range parts {
			switch p := part.(type) {
			case *syntax.Lit:
				if quoted {
					sb.WriteString(unescapeDouble(p.Value))
				} else {
					sb.WriteString(p.Value)
				}
			case *syntax.SglQuoted:
				if p.Dollar {
					sb.WriteString(unescapeANSIC(p.Value))
				} else {
					sb.WriteString(p.Value)
				}
			case *syntax.DblQuoted:
				walk(p.Parts, true)
			case *syntax.ParamExp:
				if p.Param != nil {
					sb.WriteString("$" + p.Param.Value)
				}
			}
		}
	}
	walk(word.Parts, false)
	return sb.String()
}

// unescapeDouble drops the backslash before characters that are special
// inside double quotes
func unescapeDouble(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte("$`\"\\", s[i+1]) >= 0 {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// unescapeANSIC decodes the escapes syntax.Quote emits inside $'...'
func unescapeANSIC(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch c := s[i]; c {
		case 'a':
			sb.WriteByte('\a')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'v':
			sb.WriteByte('\v')
		case 'x':
			if i+2 < len(s) {
				if b, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					sb.WriteByte(byte(b))
					i += 2
					continue
				}
			}
			sb.WriteString("\\x")
		case 'u', 'U':
			width := 4
			if c == 'U' {
				width = 8
			}
			if i+width < len(s) {
				if r, err := strconv.ParseUint(s[i+1:i+1+width], 16, 32); err == nil {
					sb.WriteRune(rune(r))
					i += width
					continue
				}
			}
			sb.WriteByte('\\')
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
