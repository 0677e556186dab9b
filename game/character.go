// Package game holds the character form, conversation sessions and the page
// state machine of the ideal type bot
package game

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxNameLength is the longest accepted name, in characters
const MaxNameLength = 10

// MaxTraits is the most personality traits a character can have
const MaxTraits = 2

// Option pairs a display label with the canonical English term
type Option struct {
	Label string
	Term  string
}

// Option tables, in display order
var (
	HairStyles = []Option{
		{"긴 생머리", "long straight hair"},
		{"단발 머리", "short hair"},
		{"긴 웨이브 머리", "long wavy hair"},
		{"포마드 스타일", "pompadour style"},
		{"가르마 스타일", "side parting style"},
		{"땋은 머리", "ponytail"},
		{"빡빡이", "bald"},
	}
	HairColors = []Option{
		{"검정색", "black"},
		{"갈색", "brown"},
		{"노란색", "blonde"},
		{"빨간색", "red"},
	}
	SkinTones = []Option{
		{"흑인", "black"},
		{"백인", "white"},
		{"황인", "asian"},
	}
	Genders = []Option{
		{"여성", "female"},
		{"남성", "male"},
	}
	Personalities = []Option{
		{"소심한", "shy"},
		{"내향적인", "introverted"},
		{"다정한", "kind"},
		{"외향적인", "extroverted"},
		{"도도한", "aloof"},
		{"애교있는", "cute"},
		{"착한", "good-hearted"},
		{"화끈한", "bold"},
		{"매력있는", "charming"},
	}
)

const (
	femaleTemplate = "Create a portrait of a beautiful young female anime character with %s hair and %s color and %s skin. " +
		"She should have large, expressive eyes, a warm smile, and a classic anime style. her personality of %s"
	maleTemplate = "Create a portrait of a handsome young male anime character with %s hair and %s color and %s skin. " +
		"He should have a strong, confident appearance, and a classic anime style. his personality of %s"
)

// Selections are the raw choices of the character form. Categorical fields
// accept either a display label or a canonical term.
type Selections struct {
	HairStyle     string
	HairColor     string
	SkinTone      string
	Gender        string
	Personalities []string
	Name          string
}

// CharacterRecord is the normalized character built from Selections
type CharacterRecord struct {
	Name                  string
	AppearanceDescription string
	PersonalityLabel      string
	// Selections holds the canonical terms the record was built from
	Selections Selections
}

// Build validates sel and composes the appearance prompt and personality label
func Build(sel Selections) (CharacterRecord, error) {
	hair, err := lookup("hair_style", HairStyles, sel.HairStyle)
	if err != nil {
		return CharacterRecord{}, err
	}
	color, err := lookup("hair_color", HairColors, sel.HairColor)
	if err != nil {
		return CharacterRecord{}, err
	}
	skin, err := lookup("skin_tone", SkinTones, sel.SkinTone)
	if err != nil {
		return CharacterRecord{}, err
	}
	gender, err := lookup("gender", Genders, sel.Gender)
	if err != nil {
		return CharacterRecord{}, err
	}

	traits := make([]string, 0, len(sel.Personalities))
	for _, p := range sel.Personalities {
		term, err := lookup("personality", Personalities, p)
		if err != nil {
			return CharacterRecord{}, err
		}
		if !contains(traits, term) {
			traits = append(traits, term)
		}
	}
	if len(traits) == 0 {
		return CharacterRecord{}, invalid("personality", ErrIncompleteSelection)
	}
	if len(traits) > MaxTraits {
		return CharacterRecord{}, invalid("personality", ErrTooManyTraits)
	}

	name, err := ValidateName(sel.Name)
	if err != nil {
		return CharacterRecord{}, err
	}

	label := strings.Join(traits, " and ")
	template := femaleTemplate
	if gender == "male" {
		template = maleTemplate
	}

	return CharacterRecord{
		Name:                  name,
		AppearanceDescription: fmt.Sprintf(template, hair, color, skin, label),
		PersonalityLabel:      label,
		Selections: Selections{
			HairStyle:     hair,
			HairColor:     color,
			SkinTone:      skin,
			Gender:        gender,
			Personalities: traits,
			Name:          name,
		},
	}, nil
}

// ValidateName trims name and checks its length
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", ErrIncompleteSelection)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", invalid("name", ErrNameTooLong)
	}
	return name, nil
}

// LabelOf returns the display label for a canonical term, or the term itself
func LabelOf(options []Option, term string) string {
	for _, o := range options {
		if o.Term == term {
			return o.Label
		}
	}
	return term
}

// lookup resolves a display label or a canonical term to the canonical term
func lookup(field string, options []Option, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalid(field, ErrIncompleteSelection)
	}
	for _, o := range options {
		if o.Label == value || strings.EqualFold(o.Term, value) {
			return o.Term, nil
		}
	}
	return "", invalid(field, fmt.Errorf("%w: %q", ErrUnknownOption, value))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
