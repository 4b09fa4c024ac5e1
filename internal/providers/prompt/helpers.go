package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	staticProviderName = "static"
	openAIProviderName = "openai"
)

const briefSystemPrompt = `You are a product design brief writer. Given an image and/or a text description of a 3D object, write a concise formal design brief (2-4 sentences) that describes:
- What the object is
- Its key form, shape, and proportions
- Materials, finish, and colour
- Any notable design features or style

The brief will be used as a living document that guides AI image and 3D mesh generation. Be specific and visual. Output only the brief text, nothing else.`

const mergeSystemPrompt = "You are a product design brief writer. Given a current design brief for a 3D object and an edit instruction, produce an updated brief that incorporates the edit. The brief should be 2-4 sentences describing the object's form, materials, finish, colour, and key features, specific enough to guide AI image generation. Output only the updated brief, nothing else."

func briefUserText(hasImage bool, prompt string) string {
	switch {
	case hasImage && prompt != "":
		return fmt.Sprintf("Write a design brief for the object shown in this image. The user also described it as: %q. Incorporate both.", prompt)
	case hasImage:
		return "Write a design brief for the object shown in this image."
	default:
		return fmt.Sprintf("Write a design brief for this object: %q", prompt)
	}
}

func mergeUserText(description, instruction string) string {
	return fmt.Sprintf("Current description: %q\nEdit instruction: %q\n\nNew description:", description, instruction)
}

// LanguageHint turns a locale into an instruction to answer in that
// language. English and unparseable locales yield no hint.
func LanguageHint(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	if en, _ := language.English.Base(); base == en {
		return ""
	}
	name := display.English.Languages().Name(language.Make(base.String()))
	if name == "" {
		return ""
	}
	return "Write your answer in " + name + "."
}

func withLanguageHint(system, locale string) string {
	if hint := LanguageHint(locale); hint != "" {
		return system + "\n\n" + hint
	}
	return system
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}
