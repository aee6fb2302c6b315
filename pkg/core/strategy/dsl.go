package strategy

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Parse reads the strategy specification DSL (spec section 6): a comma-separated list of
// triplets kind-letter (p or s), axis-letter (m, n, or k), divisor-integer, e.g.
// "pm2,sm2,pk2" = parallel-split m by 2, sequential-split m by 2, parallel-split k by 2.
func Parse(spec string) ([]Step, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	steps := make([]Step, 0, len(parts))
	for _, part := range parts {
		step, err := parseTriplet(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "strategy: parsing DSL %q", spec)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseTriplet(triplet string) (Step, error) {
	if len(triplet) < 3 {
		return Step{}, errors.Errorf("triplet %q too short, want kind-axis-divisor", triplet)
	}
	kind, err := parseKind(triplet[0])
	if err != nil {
		return Step{}, err
	}
	axis, err := parseAxis(triplet[1])
	if err != nil {
		return Step{}, err
	}
	divisor, err := strconv.Atoi(triplet[2:])
	if err != nil {
		return Step{}, errors.Errorf("triplet %q has a non-integer divisor", triplet)
	}
	if divisor < 2 {
		return Step{}, errors.Errorf("triplet %q has divisor < 2", triplet)
	}
	return Step{Kind: kind, Axis: axis, Divisor: divisor}, nil
}

func parseKind(b byte) (Kind, error) {
	switch b {
	case 'p', 'P':
		return Parallel, nil
	case 's', 'S':
		return Sequential, nil
	default:
		return 0, errors.Errorf("unknown step kind letter %q, want 'p' or 's'", string(b))
	}
}

func parseAxis(b byte) (Axis, error) {
	switch b {
	case 'm', 'M':
		return M, nil
	case 'n', 'N':
		return N, nil
	case 'k', 'K':
		return K, nil
	default:
		return 0, errors.Errorf("unknown axis letter %q, want 'm', 'n', or 'k'", string(b))
	}
}

// Format renders a step list back into the DSL's comma-separated triplet form. Format(Parse(s))
// round-trips to a canonicalized form of s (lower-case letters, no whitespace).
func Format(steps []Step) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
