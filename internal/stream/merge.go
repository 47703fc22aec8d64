package stream

import "github.com/raphaelgruber/lingostream/internal/models"

// provenance ranks where a field value came from. Confirmed values come from
// partial_update events and are never overwritten by chunk-derived guesses.
type provenance int

const (
	provenanceGuess provenance = iota
	provenanceConfirmed
)

type fieldSet uint16

const (
	fieldTranslation fieldSet = 1 << iota
	fieldExplanation
	fieldReadingText
	fieldVocabulary
	fieldGrammarPoints
	fieldCulturalContext
	fieldDifficultyLevel
	fieldLearningTips

	allFields = fieldTranslation | fieldExplanation | fieldReadingText | fieldVocabulary |
		fieldGrammarPoints | fieldCulturalContext | fieldDifficultyLevel | fieldLearningTips
)

// merge folds the present fields of src into dst. It reports whether dst changed.
func merge(dst *models.ExplanationRecord, confirmed *fieldSet, src models.PartialRecord, prov provenance) bool {
	changed := false
	apply := func(f fieldSet, present bool, set func()) {
		if !present {
			return
		}
		if prov == provenanceGuess && *confirmed&f != 0 {
			return
		}
		set()
		changed = true
		if prov == provenanceConfirmed {
			*confirmed |= f
		}
	}

	apply(fieldTranslation, src.Translation != nil, func() { dst.Translation = *src.Translation })
	apply(fieldExplanation, src.Explanation != nil, func() { dst.Explanation = *src.Explanation })
	apply(fieldReadingText, src.ReadingText != nil, func() { dst.ReadingText = models.Ptr(*src.ReadingText) })
	apply(fieldVocabulary, src.Vocabulary != nil, func() {
		dst.Vocabulary = append([]models.VocabularyItem(nil), src.Vocabulary...)
	})
	apply(fieldGrammarPoints, src.GrammarPoints != nil, func() {
		dst.GrammarPoints = append([]models.GrammarPoint(nil), src.GrammarPoints...)
	})
	apply(fieldCulturalContext, src.CulturalContext != nil, func() { dst.CulturalContext = models.Ptr(*src.CulturalContext) })
	apply(fieldDifficultyLevel, src.DifficultyLevel != nil, func() {
		dst.DifficultyLevel = models.NormalizeDifficulty(*src.DifficultyLevel)
	})
	apply(fieldLearningTips, src.LearningTips != nil, func() { dst.LearningTips = models.Ptr(*src.LearningTips) })

	return changed
}
