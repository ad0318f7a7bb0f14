package lua

import (
	"fmt"
	"strconv"
	"strings"
)

// evalArithmetic recognizes "<number> <op> <number>" for op in + - * /, the
// shape used by the original implementation's smoke tests. It reports
// ok=false for anything else, falling back to the verbatim echo.
func evalArithmetic(source string) (string, bool) {
	fields := strings.Fields(source)
	if len(fields) != 3 {
		return "", false
	}

	lhs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", false
	}
	rhs, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return "", false
	}

	var result float64
	switch fields[1] {
	case "+":
		result = lhs + rhs
	case "-":
		result = lhs - rhs
	case "*":
		result = lhs * rhs
	case "/":
		if rhs == 0 {
			return "", false
		}
		result = lhs / rhs
	default:
		return "", false
	}

	return formatResult(result), true
}

func formatResult(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
