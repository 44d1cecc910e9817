package main

import (
	"encoding"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

// csvOptions is the resolved form of the csv command's flags and config.
type csvOptions struct {
	all       bool
	sheetNum  int // 1-based; 0 writes one file per sheet; <0 when unset
	sheetName string
	filter    sheetFilter

	separator   fieldSeparator
	lineEnding  lineEnding
	quoting     quotingMode
	between     sheetSeparator
	dateFormat  string
	floatFormat string
	skipBlank   bool
	escape      bool

	mergeCells    bool
	formulas      bool
	skipEmptyArea bool

	logger *slog.Logger
}

func newCSVOptions(cmd *cobra.Command, cfg *config) (csvOptions, error) {
	f := cmd.Flags()
	o := csvOptions{
		dateFormat:  cfg.DateFormat,
		floatFormat: cfg.FloatFormat,
		skipBlank:   cfg.IgnoreEmpty,
		escape:      cfg.Escape,
		lineEnding:  nativeLineEnding(),
	}
	o.all, _ = f.GetBool("all")
	o.sheetNum, _ = f.GetInt("sheet")
	o.sheetName, _ = f.GetString("sheetname")
	o.mergeCells, _ = f.GetBool("merge-cells")
	o.formulas, _ = f.GetBool("formulas")
	o.skipEmptyArea, _ = f.GetBool("skip-empty-area")
	if o.sheetName != "" && (o.all || o.sheetNum >= 0) {
		return o, errors.New("cannot combine --sheetname with --sheet or --all")
	}
	o.all = o.all || o.sheetNum == 0

	texts := []textSetting{
		{"delimiter", cfg.Delimiter, &o.separator},
		{"quoting", cfg.Quoting, &o.quoting},
		{"sheet delimiter", cfg.SheetDelimiter, &o.between},
	}
	if cfg.LineTerminator != "" {
		texts = append(texts, textSetting{"line terminator", cfg.LineTerminator, &o.lineEnding})
	}
	for _, t := range texts {
		if err := t.into.UnmarshalText([]byte(t.text)); err != nil {
			return o, fmt.Errorf("invalid %s: %w", t.what, err)
		}
	}

	include, _ := f.GetStringArray("include_sheet_pattern")
	exclude, _ := f.GetStringArray("exclude_sheet_pattern")
	var err error
	o.filter, err = newSheetFilter(include, exclude)
	return o, err
}

// textSetting is a config string decoded into a typed option.
type textSetting struct {
	what string
	text string
	into encoding.TextUnmarshaler
}

// fieldSeparator is the column delimiter. Besides a literal character it
// accepts "tab" and the hex form xHH.
type fieldSeparator rune

func (s *fieldSeparator) UnmarshalText(text []byte) error {
	v := string(text)
	if strings.EqualFold(v, "tab") {
		*s = '\t'
		return nil
	}
	if b, ok, err := hexEscape(v); ok {
		if err != nil {
			return err
		}
		*s = fieldSeparator(b)
		return nil
	}
	r, n := utf8.DecodeRuneInString(v)
	if n == 0 {
		return errors.New("delimiter cannot be empty")
	}
	if r == utf8.RuneError && n == 1 {
		r = rune(v[0])
	}
	*s = fieldSeparator(r)
	return nil
}

// sheetSeparator is the line written between sheets. `\f` and xHH name
// control characters, and "" writes nothing.
type sheetSeparator string

func (s *sheetSeparator) UnmarshalText(text []byte) error {
	v := string(text)
	if v == `\f` {
		*s = "\f"
		return nil
	}
	if b, ok, err := hexEscape(v); ok {
		if err != nil {
			return err
		}
		*s = sheetSeparator([]byte{b})
		return nil
	}
	*s = sheetSeparator(v)
	return nil
}

// lineEnding is written after every row. It is given with Go string
// escapes such as \r\n.
type lineEnding string

func (l *lineEnding) UnmarshalText(text []byte) error {
	s, err := strconv.Unquote(`"` + strings.ReplaceAll(string(text), `"`, `\"`) + `"`)
	if err != nil {
		return fmt.Errorf("bad escape in %q", text)
	}
	*l = lineEnding(s)
	return nil
}

func nativeLineEnding() lineEnding {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// hexEscape decodes the xHH form. ok is false when v is not in that form.
func hexEscape(v string) (b byte, ok bool, err error) {
	if len(v) != 3 || (v[0] != 'x' && v[0] != 'X') {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v[1:], 16, 8)
	if err != nil {
		return 0, true, fmt.Errorf("bad hex escape %q", v)
	}
	return byte(n), true, nil
}

type quotingMode int

const (
	quoteNone quotingMode = iota
	quoteMinimal
	quoteNonNumeric
	quoteAll
)

var quotingNames = []string{"none", "minimal", "nonnumeric", "all"}

func (q quotingMode) String() string { return quotingNames[q] }

func (q *quotingMode) UnmarshalText(text []byte) error {
	i := slices.Index(quotingNames, strings.ToLower(string(text)))
	if i < 0 {
		return fmt.Errorf("%q is not one of %s", text, strings.Join(quotingNames, ", "))
	}
	*q = quotingMode(i)
	return nil
}

// sheetFilter keeps sheets matching any include pattern, or every sheet
// when there is none, unless an exclude pattern matches.
type sheetFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

func newSheetFilter(include, exclude []string) (sheetFilter, error) {
	var f sheetFilter
	var err error
	if f.include, err = compileAll(include); err != nil {
		return f, fmt.Errorf("invalid include pattern: %w", err)
	}
	if f.exclude, err = compileAll(exclude); err != nil {
		return f, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	return f, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		out[i] = re
	}
	return out, nil
}

func (f sheetFilter) allows(name string) bool {
	matches := func(re *regexp.Regexp) bool { return re.MatchString(name) }
	if len(f.include) > 0 && !slices.ContainsFunc(f.include, matches) {
		return false
	}
	return !slices.ContainsFunc(f.exclude, matches)
}
