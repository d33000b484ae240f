package less

import (
	"math"
	"strings"
)

type builtin func(at pos, args []expr) (expr, error)

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"percentage": fnPercentage,
		"round":      fnRound,
		"ceil":       mathFunc("ceil", math.Ceil),
		"floor":      mathFunc("floor", math.Floor),
		"abs":        mathFunc("abs", math.Abs),
		"unit":       fnUnit,
		"e":          fnEscape,
		"rgb":        fnRGB,
		"rgba":       fnRGBA,
		"lighten":    lightnessFunc("lighten", 1),
		"darken":     lightnessFunc("darken", -1),
		"fade":       fnFade,
		"mix":        fnMix,
	}
}

var namedColors = map[string][4]float64{
	"black":       {0, 0, 0, 1},
	"white":       {255, 255, 255, 1},
	"red":         {255, 0, 0, 1},
	"green":       {0, 128, 0, 1},
	"blue":        {0, 0, 255, 1},
	"yellow":      {255, 255, 0, 1},
	"orange":      {255, 165, 0, 1},
	"purple":      {128, 0, 128, 1},
	"gray":        {128, 128, 128, 1},
	"grey":        {128, 128, 128, 1},
	"silver":      {192, 192, 192, 1},
	"transparent": {0, 0, 0, 0},
}

func checkArgs(at pos, name string, args []expr, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return at.errorf(ArgumentError, "%s() expects %d arguments, got %d", name, min, len(args))
		}
		return at.errorf(ArgumentError, "%s() expects %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func toNumber(at pos, name string, value expr) (*dimension, error) {
	if dim, ok := value.(*dimension); ok {
		return dim, nil
	}
	return nil, at.errorf(ArgumentError, "%s() expects a number, got %s", name, formatValue(value, false))
}

func toColor(at pos, name string, value expr) (*color, error) {
	switch value := value.(type) {
	case *color:
		return value, nil
	case *keyword:
		if rgba, ok := namedColors[strings.ToLower(value.text)]; ok {
			return &color{r: rgba[0], g: rgba[1], b: rgba[2], a: rgba[3]}, nil
		}
	}
	return nil, at.errorf(ArgumentError, "%s() expects a color, got %s", name, formatValue(value, false))
}

// toFraction maps percentages to 0..1 and keeps other numbers as they are
func toFraction(dim *dimension) float64 {
	if dim.unit == "%" {
		return dim.value / 100
	}
	return dim.value
}

// toPercent returns the amount for functions like lighten() where both 10% and 10 mean ten percent
func toPercent(dim *dimension) float64 {
	return dim.value / 100
}

func fnPercentage(at pos, args []expr) (expr, error) {
	if err := checkArgs(at, "percentage", args, 1, 1); err != nil {
		return nil, err
	}

	dim, err := toNumber(at, "percentage", args[0])
	if err != nil {
		return nil, err
	}
	return &dimension{value: dim.value * 100, unit: "%"}, nil
}

func fnRound(at pos, args []expr) (expr, error) {
	if err := checkArgs(at, "round", args, 1, 2); err != nil {
		return nil, err
	}

	dim, err := toNumber(at, "round", args[0])
	if err != nil {
		return nil, err
	}

	places := 0.0
	if len(args) == 2 {
		placesArg, err := toNumber(at, "round", args[1])
		if err != nil {
			return nil, err
		}
		places = math.Max(placesArg.value, 0)
	}

	factor := math.Pow(10, places)
	return &dimension{value: math.Round(dim.value*factor) / factor, unit: dim.unit}, nil
}

func mathFunc(name string, fn func(float64) float64) builtin {
	return func(at pos, args []expr) (expr, error) {
		if err := checkArgs(at, name, args, 1, 1); err != nil {
			return nil, err
		}

		dim, err := toNumber(at, name, args[0])
		if err != nil {
			return nil, err
		}
		return &dimension{value: fn(dim.value), unit: dim.unit}, nil
	}
}

func fnUnit(at pos, args []expr) (expr, error) {
	if err := checkArgs(at, "unit", args, 1, 2); err != nil {
		return nil, err
	}

	dim, err := toNumber(at, "unit", args[0])
	if err != nil {
		return nil, err
	}

	unit := ""
	if len(args) == 2 {
		switch arg := args[1].(type) {
		case *keyword:
			unit = arg.text
		case *quoted:
			unit = arg.value
		default:
			return nil, at.errorf(ArgumentError, "unit() expects a unit name, got %s", formatValue(arg, false))
		}
	}
	return &dimension{value: dim.value, unit: unit}, nil
}

func fnEscape(at pos, args []expr) (expr, error) {
	if err := checkArgs(at, "e", args, 1, 1); err != nil {
		return nil, err
	}

	if str, ok := args[0].(*quoted); ok {
		return &quoted{value: str.value, quote: str.quote, escaped: true}, nil
	}
	return &rawValue{text: formatValue(args[0], false)}, nil
}

func channel(at pos, name string, value expr) (float64, error) {
	dim, err := toNumber(at, name, value)
	if err != nil {
		return 0, err
	}

	if dim.unit == "%" {
		return clamp(dim.value*255/100, 0, 255), nil
	}
	return clamp(dim.value, 0, 255), nil
}

func fnRGB(at pos, args []expr) (expr, error) {
	if err := checkArgs(at, "rgb", args, 3, 3); err != nil {
		return nil, err
	}
	return rgbaFromArgs(at, "rgb", args, 1)
}

func fnRGBA(at pos, args []expr) (expr, error) {
	if len(args) == 2 {
		c, err := toColor(at, "rgba", args[0])
		if err != nil {
			return nil, err
		}

		alpha, err := toNumber(at, "rgba", args[1])
		if err != nil {
			return nil, err
		}
		return &color{r: c.r, g: c.g, b: c.b, a: clamp(toFraction(alpha), 0, 1)}, nil
	}

	if err := checkArgs(at, "rgba", args, 4, 4); err != nil {
		return nil, err
	}

	alpha, err := toNumber(at, "rgba", args[3])
	if err != nil {
		return nil, err
	}
	return rgbaFromArgs(at, "rgba", args[:3], clamp(toFraction(alpha), 0, 1))
}

func rgbaFromArgs(at pos, name string, args []expr, alpha float64) (expr, error) {
	c := &color{a: alpha}
	for idx, out := range []*float64{&c.r, &c.g, &c.b} {
		value, err := channel(at, name, args[idx])
		if err != nil {
			return nil, err
		}
		*out = value
	}
	return c, nil
}

func lightnessFunc(name string, sign float64) builtin {
	return func(at pos, args []expr) (expr, error) {
		if err := checkArgs(at, name, args, 2, 2); err != nil {
			return nil, err
		}

		c, err := toColor(at, name, args[0])
		if err != nil {
			return nil, err
		}

		amount, err := toNumber(at, name, args[1])
		if err != nil {
			return nil, err
		}

		h, s, l := toHSL(c)
		l = clamp(l+sign*toPercent(amount), 0, 1)
		return fromHSL(h, s, l, c.a), nil
	}
}

func fnFade(at pos, args []expr) (expr, error) {
	if err := checkArgs(at, "fade", args, 2, 2); err != nil {
		return nil, err
	}

	c, err := toColor(at, "fade", args[0])
	if err != nil {
		return nil, err
	}

	amount, err := toNumber(at, "fade", args[1])
	if err != nil {
		return nil, err
	}
	return &color{r: c.r, g: c.g, b: c.b, a: clamp(toPercent(amount), 0, 1)}, nil
}

func fnMix(at pos, args []expr) (expr, error) {
	if err := checkArgs(at, "mix", args, 2, 3); err != nil {
		return nil, err
	}

	c1, err := toColor(at, "mix", args[0])
	if err != nil {
		return nil, err
	}

	c2, err := toColor(at, "mix", args[1])
	if err != nil {
		return nil, err
	}

	weight := 0.5
	if len(args) == 3 {
		dim, err := toNumber(at, "mix", args[2])
		if err != nil {
			return nil, err
		}
		weight = toPercent(dim)
	}

	w := weight*2 - 1
	a := c1.a - c2.a

	var w1 float64
	if w*a == -1 {
		w1 = (w + 1) / 2
	} else {
		w1 = ((w+a)/(1+w*a) + 1) / 2
	}
	w2 := 1 - w1

	return &color{
		r: c1.r*w1 + c2.r*w2,
		g: c1.g*w1 + c2.g*w2,
		b: c1.b*w1 + c2.b*w2,
		a: c1.a*weight + c2.a*(1-weight),
	}, nil
}

// toHSL returns hue in degrees and saturation and lightness in 0..1
func toHSL(c *color) (float64, float64, float64) {
	r := clamp(c.r, 0, 255) / 255
	g := clamp(c.g, 0, 255) / 255
	b := clamp(c.b, 0, 255) / 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	l := (max + min) / 2

	if max == min {
		return 0, 0, l
	}

	d := max - min
	var s float64
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}

	var h float64
	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h * 60, s, l
}

func fromHSL(h, s, l, a float64) *color {
	h = math.Mod(h, 360) / 360

	var m2 float64
	if l <= 0.5 {
		m2 = l * (s + 1)
	} else {
		m2 = l + s - l*s
	}
	m1 := l*2 - m2

	hue := func(h float64) float64 {
		if h < 0 {
			h++
		} else if h > 1 {
			h--
		}

		switch {
		case h*6 < 1:
			return m1 + (m2-m1)*h*6
		case h*2 < 1:
			return m2
		case h*3 < 2:
			return m1 + (m2-m1)*(2.0/3-h)*6
		}
		return m1
	}

	return &color{
		r: hue(h+1.0/3) * 255,
		g: hue(h) * 255,
		b: hue(h-1.0/3) * 255,
		a: a,
	}
}
