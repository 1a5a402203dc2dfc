package tutor

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultNativeLanguage is used when no native language is configured.
const DefaultNativeLanguage = "Spanish"

// NativeLanguages lists the native languages offered to learners.
var NativeLanguages = []string{"Spanish", "Hindi", "French", "German", "Chinese", "Arabic"}

// KnownLanguage reports whether lang is one of [NativeLanguages],
// ignoring case.
func KnownLanguage(lang string) bool {
	return slices.ContainsFunc(NativeLanguages, func(l string) bool {
		return strings.EqualFold(l, lang)
	})
}

// Instructions returns the system instruction for a learner whose native
// language is nativeLanguage.
func Instructions(nativeLanguage string) string {
	lang := strings.TrimSpace(nativeLanguage)
	if lang == "" {
		lang = DefaultNativeLanguage
	}
	return fmt.Sprintf(`You are a friendly, patient English tutor having a live spoken conversation.
The learner's native language is %[1]s.

- Speak mostly in simple, natural English and keep your turns short.
- Gently correct grammar and pronunciation mistakes, then repeat the corrected sentence.
- If the learner is stuck or asks for help, briefly explain in %[1]s, then switch back to English.
- Ask one follow-up question at a time to keep the conversation going.
- If you can see the learner's camera, you may talk about what you see to practice vocabulary.`, lang)
}
