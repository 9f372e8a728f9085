package settings

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"unicode/utf8"
)

// runFunc executes the gsettings tool with args and returns its stdout.
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

// GSettingsBackend reads and writes the schema through the gsettings
// command line tool, so values land in the user's dconf database next to
// the ones the control center edits.
type GSettingsBackend struct {
	schema Schema
	bin    string
	run    runFunc
}

// NewGSettingsBackend returns a backend that shells out to gsettings.
func NewGSettingsBackend(schema Schema) *GSettingsBackend {
	b := &GSettingsBackend{schema: schema, bin: "gsettings"}
	b.run = b.exec
	return b
}

// Check verifies that the gsettings tool exists and the schema is
// installed. Failures wrap ErrUnavailable.
func (b *GSettingsBackend) Check(ctx context.Context) error {
	out, err := b.run(ctx, "list-keys", b.schema.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	installed := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		installed[strings.TrimSpace(line)] = true
	}
	for _, key := range b.schema.Keys {
		if !installed[key] {
			return fmt.Errorf("%w: schema %s has no key %s", ErrUnavailable, b.schema.ID, key)
		}
	}
	return nil
}

// GetString runs `gsettings get` and decodes the GVariant string literal.
func (b *GSettingsBackend) GetString(key string) (string, error) {
	if !b.schema.Has(key) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	out, err := b.run(context.Background(), "get", b.schema.ID, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	v, err := parseGVariantString(strings.TrimSpace(string(out)))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, key, err)
	}
	return v, nil
}

// SetString runs `gsettings set` with value encoded as a GVariant string.
func (b *GSettingsBackend) SetString(key, value string) error {
	if !b.schema.Has(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if _, err := b.run(context.Background(), "set", b.schema.ID, key, quoteGVariantString(value)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRejected, key, err)
	}
	return nil
}

// Watch follows `gsettings monitor` until ctx is cancelled.
func (b *GSettingsBackend) Watch(ctx context.Context, fn func(key, value string)) error {
	cmd := exec.CommandContext(ctx, b.bin, "monitor", b.schema.ID)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		key, value, ok := parseMonitorLine(scanner.Text())
		if !ok || !b.schema.Has(key) {
			continue
		}
		fn(key, value)
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *GSettingsBackend) exec(ctx context.Context, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.bin, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", b.bin, args[0], err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", b.bin, args[0], err)
	}
	return out, nil
}

// parseMonitorLine splits a `gsettings monitor` line of the form
// "left-up: 'launcher'".
func parseMonitorLine(line string) (key, value string, ok bool) {
	key, lit, found := strings.Cut(line, ": ")
	if !found {
		return "", "", false
	}
	v, err := parseGVariantString(strings.TrimSpace(lit))
	if err != nil {
		slog.Debug("settings: unparsable monitor line", "line", line, "err", err)
		return "", "", false
	}
	return strings.TrimSpace(key), v, true
}

var errBadLiteral = errors.New("not a GVariant string literal")

// parseGVariantString decodes a GVariant text-format string such as
// 'launcher' or "it's" (optionally typed as @s '...').
func parseGVariantString(lit string) (string, error) {
	lit = strings.TrimPrefix(lit, "@s ")
	if len(lit) < 2 {
		return "", errBadLiteral
	}
	quote := lit[0]
	if (quote != '\'' && quote != '"') || lit[len(lit)-1] != quote {
		return "", errBadLiteral
	}
	body := lit[1 : len(lit)-1]

	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", errBadLiteral
		}
		switch body[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case 'u', 'U':
			n := 4
			if body[i] == 'U' {
				n = 8
			}
			if i+1+n > len(body) {
				return "", errBadLiteral
			}
			r, err := strconv.ParseUint(body[i+1:i+1+n], 16, 32)
			if err != nil || !utf8.ValidRune(rune(r)) {
				return "", errBadLiteral
			}
			sb.WriteRune(rune(r))
			i += n
		default:
			sb.WriteByte(body[i])
		}
	}
	return sb.String(), nil
}

// quoteGVariantString encodes s as a single-quoted GVariant string literal.
func quoteGVariantString(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&sb, `\u%04x`, r)
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

var (
	_ Backend = (*GSettingsBackend)(nil)
	_ Watcher = (*GSettingsBackend)(nil)
)
