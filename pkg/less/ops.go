package less

import (
	"math"
)

// conversion factors to the base unit of each group
var unitGroups = []map[string]float64{
	{
		"m":  1,
		"cm": 0.01,
		"mm": 0.001,
		"in": 0.0254,
		"px": 0.0254 / 96,
		"pt": 0.0254 / 72,
		"pc": 0.0254 / 72 * 12,
	},
	{
		"s":  1,
		"ms": 0.001,
	},
	{
		"rad":  1 / (2 * math.Pi),
		"deg":  1.0 / 360,
		"grad": 1.0 / 400,
		"turn": 1,
	},
}

// convertUnit converts value from one unit to another within the same group
func convertUnit(value float64, from, to string) (float64, bool) {
	for _, group := range unitGroups {
		fromFactor, ok := group[from]
		if !ok {
			continue
		}

		toFactor, ok := group[to]
		if !ok {
			return 0, false
		}
		return value * fromFactor / toFactor, true
	}
	return 0, false
}

func operate(at pos, op byte, left, right expr, strict bool) (expr, error) {
	switch l := left.(type) {
	case *dimension:
		switch r := right.(type) {
		case *dimension:
			return operateDimensions(at, op, l, r, strict)
		case *color:
			if op == '-' || op == '/' {
				return nil, at.errorf(OperationError, "can't %s a color from a number", opVerb(op))
			}
			return operateColor(at, op, r, l)
		}
	case *color:
		switch r := right.(type) {
		case *color:
			return operateColors(at, op, l, r)
		case *dimension:
			return operateColor(at, op, l, r)
		}
	}

	return nil, at.errorf(OperationError, "operation %c on non-numeric values %s and %s", op, formatValue(left, false), formatValue(right, false))
}

func opVerb(op byte) string {
	switch op {
	case '+':
		return "add"
	case '-':
		return "subtract"
	case '*':
		return "multiply"
	}
	return "divide"
}

func calculate(at pos, op byte, a, b float64) (float64, error) {
	switch op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		if b == 0 {
			return 0, at.errorf(OperationError, "division by zero")
		}
		return a / b, nil
	}
	return 0, at.errorf(OperationError, "unknown operator %c", op)
}

func operateDimensions(at pos, op byte, left, right *dimension, strict bool) (expr, error) {
	unit := left.unit
	rvalue := right.value

	switch {
	case left.unit == "" || right.unit == "":
		if unit == "" {
			unit = right.unit
		}
	case left.unit == right.unit:
		if op == '*' && strict {
			return nil, at.errorf(UnitError, "can't multiply %s by %s", left.unit, right.unit)
		}
		if op == '/' && strict {
			unit = ""
		}
	default:
		converted, ok := convertUnit(right.value, right.unit, left.unit)
		if !ok {
			if strict {
				return nil, at.errorf(UnitError, "incompatible units %s and %s", left.unit, right.unit)
			}
			// without strict math the left unit wins
			break
		}

		rvalue = converted
		if op == '*' && strict {
			return nil, at.errorf(UnitError, "can't multiply %s by %s", left.unit, right.unit)
		}
		if op == '/' && strict {
			unit = ""
		}
	}

	value, err := calculate(at, op, left.value, rvalue)
	if err != nil {
		return nil, err
	}
	return &dimension{value: value, unit: unit}, nil
}

func operateColors(at pos, op byte, left, right *color) (expr, error) {
	result := &color{a: left.a}
	channels := []struct {
		out  *float64
		a, b float64
	}{
		{&result.r, left.r, right.r},
		{&result.g, left.g, right.g},
		{&result.b, left.b, right.b},
	}

	for _, ch := range channels {
		value, err := calculate(at, op, ch.a, ch.b)
		if err != nil {
			return nil, err
		}
		*ch.out = value
	}
	return result, nil
}

func operateColor(at pos, op byte, left *color, right *dimension) (expr, error) {
	return operateColors(at, op, left, &color{r: right.value, g: right.value, b: right.value, a: 1})
}

func clamp(value, min, max float64) float64 {
	return math.Min(math.Max(value, min), max)
}
