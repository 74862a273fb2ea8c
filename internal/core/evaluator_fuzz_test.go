package core

import "testing"

func FuzzLooseEqualSymmetry(f *testing.F) {
	f.Add(int64(1), uint64(1), float64(1), "1")
	f.Add(int64(-1), uint64(2), float64(-1), "")
	f.Add(int64(9007199254740993), uint64(9007199254740992), float64(9007199254740992), "snowflake")

	f.Fuzz(func(t *testing.T, i int64, u uint64, fl float64, value string) {
		if looseEqual(i, u) != looseEqual(u, i) {
			t.Fatalf("looseEqual symmetry failed for int/uint: %d, %d", i, u)
		}
		if looseEqual(i, fl) != looseEqual(fl, i) {
			t.Fatalf("looseEqual symmetry failed for int/float: %d, %f", i, fl)
		}
		if looseEqual(value, fl) != looseEqual(fl, value) {
			t.Fatalf("looseEqual symmetry failed for string/float: %q, %f", value, fl)
		}
		if strictEqual(value, i) {
			t.Fatalf("strictEqual(%q, %d) = true across kinds", value, i)
		}
	})
}

func FuzzEvaluateCondition(f *testing.F) {
	f.Add("1200..1205", "1201", int64(1201))
	f.Add("all", "", int64(0))
	f.Add("-5...-9", "x", int64(-6))
	f.Add("${farm}", "none", int64(3))

	f.Fuzz(func(t *testing.T, element, contextText string, contextNumber int64) {
		conditions := []any{
			[]any{element},
			[]any{element, contextText},
			element,
		}
		contexts := []any{nil, contextText, contextNumber, []any{contextText, contextNumber}}

		for _, condition := range conditions {
			for _, value := range contexts {
				if _, err := EvaluateCondition(condition, value, nil); err != nil {
					t.Fatalf("EvaluateCondition(%#v, %#v) error = %v", condition, value, err)
				}
			}
		}

		_, _ = CheckRange(element, contextNumber)
		_, _ = CompileTemplate(element, []string{contextText})
	})
}
