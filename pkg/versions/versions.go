// Package versions implements the canonical version-compare rule of
// SPEC_FULL.md §4.D: split on '.' and '-', compare component-wise, numeric
// beats lexicographic when both components parse as integers, a missing
// trailing component compares as zero against a numeric one, and a
// non-numeric trailing component makes its version the smaller. This resolves the Open Question in spec.md §9: the source recipe
// manager (see the teacher, pkg/versions) implements version comparison in
// several mutually inconsistent ways; porg picks exactly one rule and
// applies it everywhere a version is compared.
package versions

import (
	"strconv"
	"strings"
)

// Split breaks a version string into ordered components on '.' and '-'.
// A "-rN" revision suffix becomes its own trailing component; being
// non-numeric, it makes "1.0-r1" sort before "1.0" under Compare.
func Split(ver string) []string {
	if ver == "" {
		return nil
	}
	return strings.FieldsFunc(ver, func(r rune) bool {
		return r == '.' || r == '-'
	})
}

// componentCompare returns -1, 0, or 1 as a is less than, equal to, or
// greater than b, using numeric compare when both sides parse as integers,
// lexicographic compare otherwise.
func componentCompare(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// isPureNumeric reports whether component c parses as an integer. Compare
// uses it on an extra trailing component: one that does not parse (e.g.
// "rc1") makes its version strictly less than the same prefix without it.
func isPureNumeric(c string) bool {
	_, err := strconv.Atoi(c)
	return err == nil
}

// Compare implements the canonical rule. It returns -1, 0, or 1 as a is
// less than, equal to, or greater than b.
//
//   "1.10" > "1.9"      (numeric compare of the second component)
//   "1.0.1" > "1.0"     (the missing third component counts as 0)
//   "1.0.0" == "1.0"
//   "1.0-rc1" < "1.0"   (the "rc1" component is a non-numeric suffix tacked
//                        onto an otherwise-equal prefix, so it loses)
func Compare(a, b string) int {
	if a == b {
		return 0
	}
	ac := Split(a)
	bc := Split(b)
	n := len(ac)
	if len(bc) > n {
		n = len(bc)
	}
	for i := 0; i < n; i++ {
		var av, bv string
		haveA := i < len(ac)
		haveB := i < len(bc)
		if haveA {
			av = ac[i]
		}
		if haveB {
			bv = bc[i]
		}
		switch {
		case haveA && !haveB:
			// b ran out first: its missing component counts as 0
			// against a numeric one (1.0.1 > 1.0, 1.0.0 == 1.0); a
			// non-numeric extra component in a makes it less
			// (1.0-rc1 < 1.0).
			if isPureNumeric(av) {
				if c := componentCompare(av, "0"); c != 0 {
					return c
				}
				continue
			}
			return -1
		case !haveA && haveB:
			if isPureNumeric(bv) {
				if c := componentCompare("0", bv); c != 0 {
					return c
				}
				continue
			}
			return 1
		default:
			if c := componentCompare(av, bv); c != 0 {
				return c
			}
		}
	}
	return 0
}

// Newer reports whether a is strictly newer than b under Compare.
func Newer(a, b string) bool {
	return Compare(a, b) > 0
}
