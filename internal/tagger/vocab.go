// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tagger assigns controlled-vocabulary tags to records. Two
// engines share one vocabulary: a rule tagger that matches an ordered
// regex table against record text, and an LLM tagger that asks a
// chat-completion model to pick from the same allow-list.
package tagger

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// dimensions is the coverage order. Selection fills one tag per
// dimension before spending the remaining budget on extras.
var dimensions = []string{"topic", "method", "material", "app"}

// RulePrefixes are the tag namespaces the rule vocabulary manages.
var RulePrefixes = []string{"topic/", "method/", "material/", "app/"}

// IsRuleTag reports whether tag belongs to a managed namespace.
func IsRuleTag(tag string) bool {
	for _, p := range RulePrefixes {
		if strings.HasPrefix(tag, p) {
			return true
		}
	}
	return false
}

// Rule binds one tag to the pattern that triggers it. Order in the
// vocabulary is priority order when the per-record tag budget runs out.
type Rule struct {
	Dim     string `yaml:"dim"`
	Tag     string `yaml:"tag"`
	Pattern string `yaml:"pattern"`
}

// Vocabulary is the full ordered rule table.
type Vocabulary struct {
	Rules []Rule `yaml:"rules"`
}

// AllowedTags returns every vocabulary tag in rule order.
func (v Vocabulary) AllowedTags() []string {
	tags := make([]string, 0, len(v.Rules))
	for _, r := range v.Rules {
		tags = append(tags, r.Tag)
	}
	return tags
}

// LoadVocabulary reads a YAML rule table from path, or returns the
// compiled-in default when path is empty.
func LoadVocabulary(path string) (Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("reading vocabulary: %w", err)
	}
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("parsing vocabulary %s: %w", path, err)
	}
	if len(v.Rules) == 0 {
		return Vocabulary{}, fmt.Errorf("vocabulary %s has no rules", path)
	}
	for i, r := range v.Rules {
		if r.Dim == "" || r.Tag == "" || r.Pattern == "" {
			return Vocabulary{}, fmt.Errorf("vocabulary %s: rule %d is missing dim, tag, or pattern", path, i)
		}
	}
	return v, nil
}

// DefaultVocabulary is the built-in rule table for a quantum and optical
// sensing literature collection.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{Rules: []Rule{
		// topic
		{Dim: "topic", Tag: "topic/nv_center", Pattern: `\b(nv\s*center|nitrogen[- ]vacancy|diamond\s*nv|nv[- ]diamond)\b`},
		{Dim: "topic", Tag: "topic/plasmonic_sensing", Pattern: `\b(spr|surface\s+plasmon|plasmonic|localized\s+surface\s+plasmon|lsp\b|lmr\b)\b`},
		{Dim: "topic", Tag: "topic/fiber_optic_sensing", Pattern: `\b(fiber[- ]optic|optical\s+fiber|fiber\s+sensor|photonic\s+crystal\s+fiber|pcf\b|fbg\b)\b`},
		{Dim: "topic", Tag: "topic/tmd_2d_materials", Pattern: `\b(mos2|ws2|wse2|mose2|transition\s+metal\s+dichalcogenide|2d\s+material|graphene|mxene)\b`},
		{Dim: "topic", Tag: "topic/biosensing", Pattern: `\b(biosensor|biomarker|immunoassay|aptamer|glucose|dna|protein|antigen|pathogen|lateral\s+flow)\b`},

		// method
		{Dim: "method", Tag: "method/odmr", Pattern: `\b(odmr|optically\s+detected\s+magnetic\s+resonance)\b`},
		{Dim: "method", Tag: "method/cw_odmr", Pattern: `\b(cw[- ]?odmr|continuous[- ]wave\s+odmr)\b`},
		{Dim: "method", Tag: "method/pulsed_odmr", Pattern: `\b(pulsed\s+odmr|ramsey|hahn\s+echo|rabi|dynamical\s+decoupling)\b`},
		{Dim: "method", Tag: "method/esr_epr", Pattern: `\b(esr|epr|electron\s+spin\s+resonance)\b`},
		{Dim: "method", Tag: "method/fabry_perot", Pattern: `\b(fabry[- ]perot|fp\s+interferometer)\b`},
		{Dim: "method", Tag: "method/mach_zehnder", Pattern: `\b(mach[- ]zehnder|mzi)\b`},
		{Dim: "method", Tag: "method/michelson", Pattern: `\b(michelson\s+interferometer|michelson)\b`},
		{Dim: "method", Tag: "method/sagnac", Pattern: `\b(sagnac\s+interferometer|sagnac\s+loop|fiber\s+sagnac)\b`},
		{Dim: "method", Tag: "method/ring_resonator", Pattern: `\b(ring\s+resonator|microring|micro-ring|whispering\s+gallery\s+mode|wgm)\b`},
		{Dim: "method", Tag: "method/long_period_grating", Pattern: `\b(long[- ]period\s+grating|lpg\b)\b`},
		{Dim: "method", Tag: "method/bragg_grating", Pattern: `\b(fiber\s+bragg\s+grating|fbg\b|bragg\s+grating)\b`},
		{Dim: "method", Tag: "method/ring_down", Pattern: `\b(ring[- ]down|ringdown|fiber[- ]loop\s+ring[- ]down|cavity\s+ring[- ]down)\b`},
		{Dim: "method", Tag: "method/raman", Pattern: `\b(raman|surface[- ]enhanced\s+raman|sers)\b`},
		{Dim: "method", Tag: "method/fluorescence_pl", Pattern: `\b(photoluminescence|fluorescence\s+lifetime|fluorescence\s+spectroscopy|pl\b)\b`},
		{Dim: "method", Tag: "method/electrochemical", Pattern: `\b(electrochemical|cyclic\s+voltammetry|impedance\s+spectroscopy|eis\b|amperometric|potentiometric)\b`},
		{Dim: "method", Tag: "method/fem_simulation", Pattern: `\b(finite\s+element|fem\b|comsol|fdtd|simulation\b|numerical\s+model)\b`},

		// material
		{Dim: "material", Tag: "material/diamond_nv", Pattern: `\b(diamond|nanodiamond|nv\s*center|nitrogen[- ]vacancy)\b`},
		{Dim: "material", Tag: "material/graphene", Pattern: `\b(graphene|graphene\s+oxide|go\b|rgo\b)\b`},
		{Dim: "material", Tag: "material/mos2", Pattern: `\b(mos2|molybdenum\s+disulfide)\b`},
		{Dim: "material", Tag: "material/tmd_other", Pattern: `\b(ws2|wse2|mose2|tmd)\b`},
		{Dim: "material", Tag: "material/gold_nanostructure", Pattern: `\b(gold\s+nanoparticle|au\s+nanoparticle|gold\s+film|nanohole|gold\s+coating)\b`},
		{Dim: "material", Tag: "material/silver_nanostructure", Pattern: `\b(silver\s+nanoparticle|ag\s+nanoparticle|silver\s+film)\b`},
		{Dim: "material", Tag: "material/ferrofluid", Pattern: `\b(ferrofluid|magnetic\s+fluid|fe3o4|magnetite)\b`},
		{Dim: "material", Tag: "material/polymer_hydrogel", Pattern: `\b(hydrogel|pdms|polymer|chitosan|mip\b|molecularly\s+imprinted)\b`},

		// app
		{Dim: "app", Tag: "app/magnetometry", Pattern: `\b(magnetometry|magnetic\s+field\s+sensing|magnetometer|geomagnetic)\b`},
		{Dim: "app", Tag: "app/thermometry", Pattern: `\b(thermometry|temperature\s+sensing|thermal\s+sensing|temperature\s+monitoring)\b`},
		{Dim: "app", Tag: "app/strain_pressure", Pattern: `\b(strain\s+sensing|pressure\s+sensing|stress\s+sensing|force\s+sensing)\b`},
		{Dim: "app", Tag: "app/refractive_index", Pattern: `\b(refractive\s+index\s+sensing|ri\s+sensor|index\s+sensing)\b`},
		{Dim: "app", Tag: "app/biochemical_detection", Pattern: `\b(glucose\s+sensing|biochemical\s+sensing|immunoassay|carcinoembryonic|aptamer|biomolecule|lateral\s+flow)\b`},
		{Dim: "app", Tag: "app/gas_sensing", Pattern: `\b(gas\s+sensing|gas\s+sensor|ammonia|hydrogen\s+sensing|co2\b|no2\b|methane)\b`},
		{Dim: "app", Tag: "app/ph_sensing", Pattern: `\b(ph\s+sensing|ph\s+sensor|acidity\s+sensing)\b`},
		{Dim: "app", Tag: "app/humidity_sensing", Pattern: `\b(humidity\s+sensing|humidity\s+sensor|moisture\s+sensing)\b`},
		{Dim: "app", Tag: "app/electric_field", Pattern: `\b(electric\s+field\s+sensing|electrometry|voltage\s+sensing)\b`},
	}}
}
