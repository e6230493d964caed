package main

import (
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dgryski/go-wyhash"
	"go.opentelemetry.io/otel/attribute"
)

// adjectives and nouns are combined into pronounceable field names and values
var adjectives = []string{
	"amber", "brisk", "calm", "dusty", "eager", "faint", "gentle", "hollow", "icy", "jolly",
	"keen", "lively", "mellow", "noble", "odd", "plain", "quiet", "rapid", "shiny", "tidy",
	"upper", "vivid", "warm", "young", "zesty", "bold", "crisp", "deep", "early", "fresh",
}

var nouns = []string{
	"anchor", "badge", "cabin", "dial", "ember", "fern", "gate", "harbor", "island", "jar",
	"kettle", "lantern", "meadow", "needle", "orchard", "pebble", "quilt", "river", "saddle", "tower",
	"umbrella", "valley", "wagon", "yard", "zipper", "bridge", "canyon", "delta", "engine", "forge",
	"garden", "hammer", "ink", "jacket", "kite", "ladder", "mirror", "nest", "oven", "piano",
}

// Chooser picks one of the values of a print statement. The interpreter
// takes it as a parameter so that tests can make the choice deterministic.
type Chooser interface {
	Choice(a []string) string
}

type Rng struct {
	rng *rand.Rand
}

// NewRng returns a generator whose sequence depends only on s.
func NewRng(s string) Rng {
	return Rng{rand.New(rand.NewSource(int64(wyhash.Hash([]byte(s), 2467825690))))}
}

func (r Rng) Intn(n int) int64 {
	return int64(r.rng.Intn(n))
}

func (r Rng) Choice(a []string) string {
	return a[r.Intn(len(a))]
}

func (r Rng) Int(min, max int) int64 {
	if max <= min {
		return int64(min)
	}
	return int64(min + r.rng.Intn(max-min))
}

func (r Rng) Float(min, max float64) float64 {
	return r.rng.Float64()*(max-min) + min
}

func (r Rng) Gaussian(mean, stddev float64) float64 {
	return r.rng.NormFloat64()*stddev + mean
}

func (r Rng) GaussianInt(mean, stddev float64) int64 {
	return int64(r.rng.NormFloat64()*stddev + mean)
}

func (r Rng) String(len int) string {
	var b strings.Builder
	for i := 0; i < len; i++ {
		b.WriteByte("abcdefghijklmnopqrstuvwxyz"[r.Int(0, 26)])
	}
	return b.String()
}

func (r Rng) HexString(len int) string {
	var b strings.Builder
	for i := 0; i < len; i++ {
		b.WriteByte("0123456789abcdef"[r.Int(0, 16)])
	}
	return b.String()
}

func (r Rng) WordPair() string {
	return r.Choice(adjectives) + "-" + r.Choice(nouns)
}

func (r Rng) BoolWithProb(p int) bool {
	return r.Int(0, 100) < int64(p)
}

// getProcessID returns the process ID
func getProcessID() int64 {
	return int64(os.Getpid())
}

func (r Rng) getValueGenerators() []func() any {
	return []func() any{
		func() any { return r.Intn(100) },
		func() any { return r.BoolWithProb(99) },
		func() any { return r.BoolWithProb(50) },
		func() any { return r.Int(-100, 100) },
		func() any { return r.Float(0, 1000) },
		func() any { return r.GaussianInt(50, 30) },
		func() any { return r.Gaussian(500, 300) },
		func() any { return r.String(5) },
		func() any { return r.String(4) + "-" + r.HexString(8) },
		func() any { return r.HexString(16) },
	}
}

var (
	fieldNamePat = regexp.MustCompile(`^(?:([0-9]+)\.)?([a-zA-Z0-9_.]+)$`)
	genPat       = regexp.MustCompile(`^/([ibfs][awxrg]?)([0-9.-]+)?(,[0-9.-]+)?$`)
	// groups                           1              2          3
)

// fieldSpec is a parsed user field; level is -1 when the field applies at
// every depth.
type fieldSpec struct {
	name  string
	level int
	gen   func() any
}

// parseUserFields expects fields in the form name=constant or name=/gen,
// where name may carry a depth prefix like 1.name.
func parseUserFields(rng Rng, userfields map[string]string) ([]fieldSpec, error) {
	keys := make([]string, 0, len(userfields))
	for key := range userfields {
		keys = append(keys, key)
	}
	// sorted so that a seed always drives the generators in the same order
	sort.Strings(keys)
	specs := make([]fieldSpec, 0, len(userfields))
	for _, key := range keys {
		value := userfields[key]
		matches := fieldNamePat.FindStringSubmatch(key)
		if matches == nil {
			return nil, fmt.Errorf("invalid field name %s", key)
		}
		spec := fieldSpec{name: matches[2], level: -1}
		if matches[1] != "" {
			spec.level, _ = strconv.Atoi(matches[1])
		}

		if !strings.HasPrefix(value, "/") {
			spec.gen = getConst(value)
			specs = append(specs, spec)
			continue
		}

		gm := genPat.FindStringSubmatch(value)
		if gm == nil {
			return nil, fmt.Errorf("unparseable generator %s for field %s", value, key)
		}
		var err error
		gentype, p1, p2 := gm[1], gm[2], gm[3]
		switch gentype {
		case "i", "ir", "ig":
			spec.gen, err = getIntGen(rng, gentype, p1, p2)
			if err != nil {
				return nil, fmt.Errorf("invalid int in field %s: %w", key, err)
			}
		case "f", "fr", "fg":
			spec.gen, err = getFloatGen(rng, gentype, p1, p2)
			if err != nil {
				return nil, fmt.Errorf("invalid float in field %s: %w", key, err)
			}
		case "b":
			n := 50
			if p1 != "" {
				n, err = strconv.Atoi(p1)
				if err != nil || n < 0 || n > 100 {
					return nil, fmt.Errorf("invalid bool option in %s", key)
				}
			}
			spec.gen = func() any { return rng.BoolWithProb(n) }
		case "s", "sw", "sx", "sa":
			n := 16
			if p1 != "" {
				n, err = strconv.Atoi(p1)
				if err != nil || n <= 0 {
					return nil, fmt.Errorf("invalid string option in %s", key)
				}
			}
			switch gentype {
			case "sw":
				words := make([]string, n)
				for i := 0; i < n; i++ {
					words[i] = rng.WordPair()
				}
				spec.gen = func() any { return rng.Choice(words) }
			case "sx":
				spec.gen = func() any { return rng.HexString(n) }
			default:
				spec.gen = func() any { return rng.String(n) }
			}
		default:
			return nil, fmt.Errorf("invalid generator type %s in field %s", gentype, key)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func getConst(value string) func() any {
	if value == "true" {
		return func() any { return true }
	}
	if value == "false" {
		return func() any { return false }
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return func() any { return i }
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return func() any { return f }
	}
	return func() any { return value }
}

func gaussianDefaults(v1, v2 float64) (float64, float64) {
	if v1 == 0 && v2 == 0 {
		v1 = 100
		v2 = 10
	} else if v2 == 0 {
		v2 = v1 / 10
	}
	return v1, v2
}

func getIntGen(rng Rng, gentype, p1, p2 string) (func() any, error) {
	var v1, v2 int
	var err error
	if p1 != "" {
		v1, err = strconv.Atoi(p1)
		if err != nil {
			return nil, fmt.Errorf("%s is not an int", p1)
		}
	}
	if p2 == "" || p2 == "," {
		// a single number is the upper bound of a range, or the mean of a gaussian
		if gentype != "ig" {
			v2 = v1
			v1 = 0
		}
	} else {
		v2, err = strconv.Atoi(p2[1:])
		if err != nil {
			return nil, fmt.Errorf("%s is not an int", p2[1:])
		}
	}
	if gentype == "ig" {
		g1, g2 := gaussianDefaults(float64(v1), float64(v2))
		return func() any { return rng.GaussianInt(g1, g2) }, nil
	}
	if v1 == 0 && v2 == 0 {
		v2 = 100
	}
	return func() any { return rng.Int(v1, v2) }, nil
}

func getFloatGen(rng Rng, gentype, p1, p2 string) (func() any, error) {
	var v1, v2 float64
	var err error
	if p1 != "" {
		v1, err = strconv.ParseFloat(p1, 64)
		if err != nil {
			return nil, fmt.Errorf("%s is not a float64", p1)
		}
	}
	if p2 == "" || p2 == "," {
		if gentype != "fg" {
			v2 = v1
			v1 = 0
		}
	} else {
		v2, err = strconv.ParseFloat(p2[1:], 64)
		if err != nil {
			return nil, fmt.Errorf("%s is not a float64", p2[1:])
		}
	}
	if gentype == "fg" {
		g1, g2 := gaussianDefaults(v1, v2)
		return func() any { return rng.Gaussian(g1, g2) }, nil
	}
	if v1 == 0 && v2 == 0 {
		v2 = 100
	}
	return func() any { return rng.Float(v1, v2) }, nil
}

// Fielder generates the extra attributes put on every span. A Fielder is
// not safe for concurrent use; each execution unit gets its own.
type Fielder struct {
	all     map[string]func() any
	byLevel map[int]map[string]func() any
}

// NewFielder builds a Fielder from user field specifications plus nextras
// randomly named fields. The same seed always yields the same field names
// and value sequences.
func NewFielder(seed string, userFields map[string]string, nextras int) (*Fielder, error) {
	rng := NewRng(seed)
	specs, err := parseUserFields(rng, userFields)
	if err != nil {
		return nil, err
	}
	f := &Fielder{
		all:     make(map[string]func() any),
		byLevel: make(map[int]map[string]func() any),
	}
	gens := rng.getValueGenerators()
	for i := 0; i < nextras; i++ {
		f.all[rng.WordPair()] = gens[rng.Intn(len(gens))]
	}
	f.all["process_id"] = func() any { return getProcessID() }
	for _, spec := range specs {
		if spec.level < 0 {
			f.all[spec.name] = spec.gen
			continue
		}
		if f.byLevel[spec.level] == nil {
			f.byLevel[spec.level] = make(map[string]func() any)
		}
		f.byLevel[spec.level][spec.name] = spec.gen
	}
	return f, nil
}

// GetFields returns fresh values for every field that applies at level,
// where level 0 is the root span.
func (f *Fielder) GetFields(level int) map[string]any {
	fields := make(map[string]any, len(f.all)+len(f.byLevel[level]))
	for k, v := range f.all {
		fields[k] = v()
	}
	for k, v := range f.byLevel[level] {
		fields[k] = v()
	}
	return fields
}

func fieldAttributes(fields map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for key, val := range fields {
		switch v := val.(type) {
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(v)))
		}
	}
	return attrs
}
