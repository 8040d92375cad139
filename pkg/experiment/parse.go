package experiment

import (
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Parse builds an experiment from step strings. Parsing is case-insensitive
// and tolerant of attached units ("4.1V" and "4.1 V" are equivalent).
func Parse(lines []string) (*Experiment, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New("experiment has no steps")
	}
	e := &Experiment{Steps: make([]Step, 0, len(lines))}
	for i, line := range lines {
		s, err := ParseStep(line)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "step %d", i+1)
		}
		e.Steps = append(e.Steps, s)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// ParseStep parses a single step string.
func ParseStep(text string) (Step, error) {
	s := Step{Text: strings.TrimSpace(text)}
	toks := tokenize(text)
	if len(toks) == 0 {
		return s, pkgerrors.New("empty step")
	}

	switch toks[0] {
	case "rest":
		s.Mode = Rest
		rest, err := parseTerminations(&s, toks[1:])
		if err != nil {
			return s, err
		}
		if len(rest) != 0 {
			return s, pkgerrors.Errorf("unexpected trailing tokens %v", rest)
		}
		if s.Duration <= 0 {
			return s, pkgerrors.New("rest steps need a duration (e.g. \"Rest for 10 minutes\")")
		}
		return s, nil

	case "hold":
		s.Mode = ConstantVoltage
		toks = toks[1:]
		if len(toks) == 0 || toks[0] != "at" {
			return s, pkgerrors.New("expected \"at\" after \"Hold\"")
		}
		v, unit, rest, err := parseQuantity(toks[1:])
		if err != nil {
			return s, err
		}
		if unit != "v" && unit != "mv" {
			return s, pkgerrors.Errorf("hold value must be a voltage, got unit %q", unit)
		}
		if unit == "mv" {
			v /= 1000
		}
		s.HoldVoltage = v
		rest, err = parseTerminations(&s, rest)
		if err != nil {
			return s, err
		}
		if len(rest) != 0 {
			return s, pkgerrors.Errorf("unexpected trailing tokens %v", rest)
		}
		return s, nil

	case "charge", "discharge":
		s.Mode = ConstantCurrent
		sign := 1.0
		if toks[0] == "charge" {
			sign = -1
		}
		toks = toks[1:]
		if len(toks) == 0 || toks[0] != "at" {
			return s, pkgerrors.Errorf("expected \"at\" after %q", s.Text)
		}
		v, unit, rest, err := parseQuantity(toks[1:])
		if err != nil {
			return s, err
		}
		switch unit {
		case "c":
			s.UseCRate = true
			s.CRate = sign * v
		case "a":
			s.Current = sign * v
		case "ma":
			s.Current = sign * v / 1000
		case "v", "mv":
			return s, pkgerrors.New("charge/discharge rate cannot be a voltage; use \"Hold at ... V\"")
		default:
			return s, pkgerrors.Errorf("unknown rate unit %q", unit)
		}
		rest, err = parseTerminations(&s, rest)
		if err != nil {
			return s, err
		}
		if len(rest) != 0 {
			return s, pkgerrors.Errorf("unexpected trailing tokens %v", rest)
		}
		return s, nil

	default:
		return s, pkgerrors.Errorf("unknown step verb %q (expected Charge, Discharge, Hold or Rest)", toks[0])
	}
}

// tokenize lowercases, strips commas and splits attached units so that
// "4.1V" becomes ["4.1", "v"]. C-rate fractions like "C/50" survive as a
// single token.
func tokenize(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, ",", " "))
	var toks []string
	for _, f := range strings.Fields(text) {
		if cut := splitAttachedUnit(f); cut > 0 {
			toks = append(toks, f[:cut], f[cut:])
		} else {
			toks = append(toks, f)
		}
	}
	return toks
}

// splitAttachedUnit returns the index where a trailing alphabetic unit
// starts in a token that begins with a number, or 0 if there is none.
func splitAttachedUnit(tok string) int {
	if len(tok) == 0 || !isNumStart(tok[0]) {
		return 0
	}
	i := len(tok)
	for i > 0 && isAlpha(tok[i-1]) {
		i--
	}
	if i == 0 || i == len(tok) {
		return 0
	}
	return i
}

func isNumStart(b byte) bool { return (b >= '0' && b <= '9') || b == '-' || b == '.' || b == '+' }
func isAlpha(b byte) bool    { return b >= 'a' && b <= 'z' }

// parseQuantity reads a value and its unit from the token stream. C-rate
// fractions ("c/50") are returned as unit "c" with the fractional value.
func parseQuantity(toks []string) (float64, string, []string, error) {
	if len(toks) == 0 {
		return 0, "", nil, pkgerrors.New("expected a value")
	}
	if strings.HasPrefix(toks[0], "c/") {
		den, err := strconv.ParseFloat(toks[0][2:], 64)
		if err != nil || den == 0 {
			return 0, "", nil, pkgerrors.Errorf("bad C-rate %q", toks[0])
		}
		return 1 / den, "c", toks[1:], nil
	}
	v, err := strconv.ParseFloat(toks[0], 64)
	if err != nil {
		return 0, "", nil, pkgerrors.Errorf("bad value %q", toks[0])
	}
	if len(toks) < 2 {
		return 0, "", nil, pkgerrors.Errorf("value %q has no unit", toks[0])
	}
	return v, toks[1], toks[2:], nil
}

// parseTerminations consumes "for <duration>", "or" and "until <quantity>"
// clauses, filling the step's termination fields.
func parseTerminations(s *Step, toks []string) ([]string, error) {
	for len(toks) > 0 {
		switch toks[0] {
		case "or":
			toks = toks[1:]

		case "for":
			d, rest, err := parseDuration(toks[1:])
			if err != nil {
				return nil, err
			}
			s.Duration = d
			toks = rest

		case "until":
			v, unit, rest, err := parseQuantity(toks[1:])
			if err != nil {
				return nil, err
			}
			switch unit {
			case "v":
				s.VoltageCutoff = v
			case "mv":
				s.VoltageCutoff = v / 1000
			case "a":
				s.CurrentCutoff = abs(v)
			case "ma":
				s.CurrentCutoff = abs(v) / 1000
			case "c":
				s.CRateCutoff = abs(v)
			default:
				return nil, pkgerrors.Errorf("unknown termination unit %q", unit)
			}
			toks = rest

		default:
			return toks, nil
		}
	}
	return toks, nil
}

func parseDuration(toks []string) (float64, []string, error) {
	if len(toks) < 2 {
		return 0, nil, pkgerrors.New("expected a duration (e.g. \"30 minutes\")")
	}
	v, err := strconv.ParseFloat(toks[0], 64)
	if err != nil || v <= 0 {
		return 0, nil, pkgerrors.Errorf("bad duration value %q", toks[0])
	}
	switch toks[1] {
	case "s", "sec", "secs", "second", "seconds":
		return v, toks[2:], nil
	case "min", "mins", "minute", "minutes":
		return v * 60, toks[2:], nil
	case "h", "hr", "hrs", "hour", "hours":
		return v * 3600, toks[2:], nil
	default:
		return 0, nil, pkgerrors.Errorf("unknown duration unit %q", toks[1])
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
