package game

import (
	"fmt"
	"strings"
)

// CreationStep is the current step of the character form
type CreationStep int

const (
	StepHairStyle CreationStep = iota
	StepHairColor
	StepSkinTone
	StepGender
	StepPersonality
	StepName
	StepReview
)

func (s CreationStep) String() string {
	switch s {
	case StepHairStyle:
		return "hair_style"
	case StepHairColor:
		return "hair_color"
	case StepSkinTone:
		return "skin_tone"
	case StepGender:
		return "gender"
	case StepPersonality:
		return "personality"
	case StepName:
		return "name"
	case StepReview:
		return "review"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// CharacterCreator walks the user through the character form one selector
// at a time. It only collects choices; Build does the final validation.
type CharacterCreator struct {
	Step CreationStep

	hairStyle int
	hairColor int
	skinTone  int
	gender    int
	traits    []int
	name      string
}

// NewCharacterCreator creates a form positioned at the first step
func NewCharacterCreator() *CharacterCreator {
	return &CharacterCreator{
		Step:      StepHairStyle,
		hairStyle: -1,
		hairColor: -1,
		skinTone:  -1,
		gender:    -1,
	}
}

// Options returns the choices of the current step
func (cc *CharacterCreator) Options() []Option {
	switch cc.Step {
	case StepHairStyle:
		return HairStyles
	case StepHairColor:
		return HairColors
	case StepSkinTone:
		return SkinTones
	case StepGender:
		return Genders
	case StepPersonality:
		return Personalities
	default:
		return nil
	}
}

// Prompt returns the question shown for the current step
func (cc *CharacterCreator) Prompt() string {
	switch cc.Step {
	case StepHairStyle:
		return "머리 스타일을 선택하세요:"
	case StepHairColor:
		return "머리 색깔을 선택하세요:"
	case StepSkinTone:
		return "피부 색깔을 선택하세요:"
	case StepGender:
		return "성별을 선택하세요:"
	case StepPersonality:
		return fmt.Sprintf("이상형의 성격을 선택하세요(%d개 이하):", MaxTraits)
	case StepName:
		return "이상형의 이름을 입력하세요:"
	default:
		return "선택한 내용을 확인하세요:"
	}
}

// Choose picks option index for the current single-choice step and advances
func (cc *CharacterCreator) Choose(index int) error {
	options := cc.Options()
	if cc.Step == StepPersonality || options == nil {
		return fmt.Errorf("%w: step %s has no single choice", ErrInvalidTransition, cc.Step)
	}
	if index < 0 || index >= len(options) {
		return invalid(cc.Step.String(), fmt.Errorf("%w: index %d", ErrUnknownOption, index))
	}

	switch cc.Step {
	case StepHairStyle:
		cc.hairStyle = index
	case StepHairColor:
		cc.hairColor = index
	case StepSkinTone:
		cc.skinTone = index
	case StepGender:
		cc.gender = index
	}
	cc.Step++
	return nil
}

// ToggleTrait selects or deselects a personality trait
func (cc *CharacterCreator) ToggleTrait(index int) error {
	if cc.Step != StepPersonality {
		return fmt.Errorf("%w: step %s is not personality", ErrInvalidTransition, cc.Step)
	}
	if index < 0 || index >= len(Personalities) {
		return invalid("personality", fmt.Errorf("%w: index %d", ErrUnknownOption, index))
	}

	for i, t := range cc.traits {
		if t == index {
			cc.traits = append(cc.traits[:i], cc.traits[i+1:]...)
			return nil
		}
	}
	if len(cc.traits) >= MaxTraits {
		return invalid("personality", ErrTooManyTraits)
	}
	cc.traits = append(cc.traits, index)
	return nil
}

// HasTrait reports whether trait index is selected
func (cc *CharacterCreator) HasTrait(index int) bool {
	for _, t := range cc.traits {
		if t == index {
			return true
		}
	}
	return false
}

// FinishTraits moves from the personality step to the name step
func (cc *CharacterCreator) FinishTraits() error {
	if cc.Step != StepPersonality {
		return fmt.Errorf("%w: step %s is not personality", ErrInvalidTransition, cc.Step)
	}
	if len(cc.traits) == 0 {
		return invalid("personality", ErrIncompleteSelection)
	}
	cc.Step = StepName
	return nil
}

// SetName records the name and moves to review. A name that is too long
// keeps the form on the name step.
func (cc *CharacterCreator) SetName(text string) error {
	if cc.Step != StepName && cc.Step != StepReview {
		return fmt.Errorf("%w: step %s does not take a name", ErrInvalidTransition, cc.Step)
	}
	name, err := ValidateName(text)
	if err != nil {
		cc.Step = StepName
		return err
	}
	cc.name = name
	cc.Step = StepReview
	return nil
}

// Revisit returns to an earlier step, keeping what was chosen
func (cc *CharacterCreator) Revisit(step CreationStep) error {
	if step < StepHairStyle || step > cc.Step {
		return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidTransition, cc.Step, step)
	}
	cc.Step = step
	return nil
}

// Selections returns what has been chosen so far, as display labels
func (cc *CharacterCreator) Selections() Selections {
	sel := Selections{
		HairStyle: label(HairStyles, cc.hairStyle),
		HairColor: label(HairColors, cc.hairColor),
		SkinTone:  label(SkinTones, cc.skinTone),
		Gender:    label(Genders, cc.gender),
		Name:      cc.name,
	}
	for _, t := range cc.traits {
		sel.Personalities = append(sel.Personalities, Personalities[t].Label)
	}
	return sel
}

// Summary returns the review text of the current choices
func (cc *CharacterCreator) Summary() string {
	sel := cc.Selections()

	var b strings.Builder
	b.WriteString("💖 나의 이상형 💖\n\n")
	fmt.Fprintf(&b, "머리 스타일: %s\n", dash(sel.HairStyle))
	fmt.Fprintf(&b, "머리 색깔: %s\n", dash(sel.HairColor))
	fmt.Fprintf(&b, "피부 색깔: %s\n", dash(sel.SkinTone))
	fmt.Fprintf(&b, "성별: %s\n", dash(sel.Gender))
	fmt.Fprintf(&b, "성격: %s\n", dash(strings.Join(sel.Personalities, ", ")))
	fmt.Fprintf(&b, "이름: %s", dash(sel.Name))
	return b.String()
}

func label(options []Option, index int) string {
	if index < 0 || index >= len(options) {
		return ""
	}
	return options[index].Label
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
