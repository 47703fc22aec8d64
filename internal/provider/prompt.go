package provider

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/lingostream/internal/stream"
)

const defaultTargetLanguage = "English"

var languageNames = map[string]string{
	"zh":    "Chinese",
	"zh-cn": "Chinese",
	"en":    "English",
	"ja":    "Japanese",
	"ko":    "Korean",
	"de":    "German",
	"fr":    "French",
	"es":    "Spanish",
}

// LanguageName turns a language code into the name used in prompts.
// Unknown values are used verbatim.
func LanguageName(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return defaultTargetLanguage
	}
	if name, ok := languageNames[strings.ToLower(lang)]; ok {
		return name
	}
	return lang
}

// BuildPrompt returns the system and user messages for a segment.
func BuildPrompt(req stream.Request) (system, user string) {
	lang := LanguageName(req.TargetLanguage)

	system = fmt.Sprintf(`You are a language learning assistant. The learner's native language is %[1]s.
Analyse the text you are given and answer with a single JSON object and nothing else.
All keys must be in English; all explanations must be written in %[1]s.

{
  "translation": "natural, fluent translation into %[1]s",
  "explanation": "detailed walkthrough of the passage in Markdown: context, tone, cultural background",
  "reading_text": "the passage with pronunciation (kana for Japanese, IPA for English), optional",
  "vocabulary": [
    {
      "word": "word or phrase exactly as it appears in the text",
      "reading": "its pronunciation",
      "meaning": "meaning in this context",
      "usage": "usage and collocations",
      "example": "example sentence with a %[1]s translation"
    }
  ],
  "grammar_points": [
    {
      "point": "name of the grammar point",
      "explanation": "explanation in %[1]s",
      "example": "example sentence with a %[1]s translation"
    }
  ],
  "cultural_context": "cultural notes, if any",
  "difficulty_level": "beginner | intermediate | advanced",
  "learning_tips": "study advice for this passage"
}

Emit "translation" first and "explanation" second.`, lang)

	user = "Analyse this passage:\n---\n" + req.Text + "\n---"
	return system, user
}
