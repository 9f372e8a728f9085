package settings

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeGSettings struct {
	values map[string]string // key -> GVariant literal
	calls  [][]string
	fail   error
}

func (f *fakeGSettings) run(_ context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	if f.fail != nil {
		return nil, f.fail
	}
	switch args[0] {
	case "list-keys":
		var keys []string
		for k := range f.values {
			keys = append(keys, k)
		}
		return []byte(strings.Join(keys, "\n") + "\n"), nil
	case "get":
		return []byte(f.values[args[2]] + "\n"), nil
	case "set":
		f.values[args[2]] = args[3]
		return nil, nil
	}
	return nil, errors.New("unexpected command")
}

func newFakeBackend(f *fakeGSettings) *GSettingsBackend {
	b := NewGSettingsBackend(ZoneSchema)
	b.run = f.run
	return b
}

func TestGSettingsBackend_GetSetRoundTrip(t *testing.T) {
	f := &fakeGSettings{values: map[string]string{
		KeyLeftUp: "'launcher'", KeyRightUp: "''", KeyLeftDown: "''", KeyRightDown: "''",
	}}
	b := newFakeBackend(f)

	if err := b.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	v, err := b.GetString(KeyLeftUp)
	if err != nil || v != "launcher" {
		t.Fatalf("GetString = %q, %v; want launcher", v, err)
	}

	if err := b.SetString(KeyRightUp, "it's 多任务"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if got := f.values[KeyRightUp]; got != `'it\'s 多任务'` {
		t.Errorf("stored literal = %s", got)
	}
	v, err = b.GetString(KeyRightUp)
	if err != nil || v != "it's 多任务" {
		t.Errorf("GetString after set = %q, %v", v, err)
	}
}

func TestGSettingsBackend_MissingSchema(t *testing.T) {
	f := &fakeGSettings{fail: errors.New("No such schema")}
	b := newFakeBackend(f)

	if err := b.Check(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Check() error = %v, want ErrUnavailable", err)
	}
	if _, err := b.GetString(KeyLeftUp); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetString error = %v, want ErrUnavailable", err)
	}
	if err := b.SetString(KeyLeftUp, "x"); !errors.Is(err, ErrRejected) {
		t.Errorf("SetString error = %v, want ErrRejected", err)
	}
}

func TestGSettingsBackend_CheckMissingKey(t *testing.T) {
	f := &fakeGSettings{values: map[string]string{KeyLeftUp: "''"}}
	if err := newFakeBackend(f).Check(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Check() error = %v, want ErrUnavailable", err)
	}
}

func TestParseGVariantString(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "''", want: ""},
		{in: "'launcher'", want: "launcher"},
		{in: `"it's"`, want: "it's"},
		{in: `@s 'typed'`, want: "typed"},
		{in: `'a\nb\tc'`, want: "a\nb\tc"},
		{in: `'été'`, want: "été"},
		{in: `'back\\slash'`, want: `back\slash`},
		{in: "launcher", wantErr: true},
		{in: "'unterminated", wantErr: true},
		{in: `'bad\u12'`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseGVariantString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseGVariantString(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseGVariantString(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteGVariantString_Reversible(t *testing.T) {
	for _, s := range []string{"", "launcher", "it's", `a\b`, "line\nbreak", "热角 ✓", "\x01ctl"} {
		got, err := parseGVariantString(quoteGVariantString(s))
		if err != nil {
			t.Errorf("parse(quote(%q)) error = %v", s, err)
			continue
		}
		if got != s {
			t.Errorf("parse(quote(%q)) = %q", s, got)
		}
	}
}

func TestParseMonitorLine(t *testing.T) {
	key, value, ok := parseMonitorLine("left-down: 'expose'")
	if !ok || key != KeyLeftDown || value != "expose" {
		t.Errorf("parseMonitorLine = %q, %q, %v", key, value, ok)
	}
	if _, _, ok := parseMonitorLine("garbage"); ok {
		t.Error("parseMonitorLine accepted a line without a separator")
	}
}
