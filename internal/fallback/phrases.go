package fallback

import (
	"github.com/echoloom/echoloom/internal/quality"
)

// neutralPhrases holds the per-language, per-issue-type template sets used
// for tier-3 text selection. Several variants per key so the same situation
// does not always produce the same sentence.
var neutralPhrases = map[string]map[quality.IssueType][]string{
	"en": {
		quality.IssueEmptyTranscript: {
			"Sorry, I didn't catch that. Could you say it again?",
			"I couldn't hear anything just now. Please try once more.",
			"It seems I missed that. Could you repeat it?",
		},
		quality.IssueLowConfidence: {
			"I'm not sure I understood you correctly. Could you repeat that?",
			"Could you say that again a bit more clearly?",
			"I may have misheard you. One more time, please?",
		},
		quality.IssueIncoherentSpeech: {
			"I didn't quite follow that. Could you rephrase it?",
			"Could you put that another way for me?",
		},
		quality.IssuePartialRecognition: {
			"I only caught part of that. Could you repeat the whole thing?",
			"I think I missed the beginning. Could you start over?",
		},
		quality.IssueLanguageMismatch: {
			"It sounds like you switched languages. Should we continue in another language?",
			"I heard a different language just now. Would you like to switch?",
		},
		quality.IssueBackgroundNoise: {
			"There's quite a bit of background noise. Could you move somewhere quieter?",
			"I'm having trouble hearing you over the noise. Could you try again?",
		},
	},
	"de": {
		quality.IssueEmptyTranscript: {
			"Entschuldigung, das habe ich nicht mitbekommen. Können Sie das wiederholen?",
			"Ich habe gerade nichts gehört. Bitte versuchen Sie es noch einmal.",
		},
		quality.IssueLowConfidence: {
			"Ich bin mir nicht sicher, ob ich Sie richtig verstanden habe. Können Sie das wiederholen?",
			"Können Sie das bitte noch einmal etwas deutlicher sagen?",
		},
		quality.IssueIncoherentSpeech: {
			"Das habe ich nicht ganz verstanden. Können Sie es anders formulieren?",
		},
		quality.IssuePartialRecognition: {
			"Ich habe nur einen Teil verstanden. Können Sie alles noch einmal sagen?",
		},
		quality.IssueLanguageMismatch: {
			"Es klingt, als hätten Sie die Sprache gewechselt. Sollen wir wechseln?",
		},
		quality.IssueBackgroundNoise: {
			"Es gibt viele Hintergrundgeräusche. Können Sie an einen ruhigeren Ort gehen?",
		},
	},
	"es": {
		quality.IssueEmptyTranscript: {
			"Perdón, no escuché eso. ¿Puede repetirlo?",
			"No he oído nada. Inténtelo otra vez, por favor.",
		},
		quality.IssueLowConfidence: {
			"No estoy seguro de haberle entendido bien. ¿Puede repetirlo?",
			"¿Puede decirlo otra vez con más claridad?",
		},
		quality.IssueIncoherentSpeech: {
			"No le he entendido del todo. ¿Puede decirlo de otra manera?",
		},
		quality.IssuePartialRecognition: {
			"Solo he captado una parte. ¿Puede repetirlo todo?",
		},
		quality.IssueLanguageMismatch: {
			"Parece que ha cambiado de idioma. ¿Quiere que cambiemos?",
		},
		quality.IssueBackgroundNoise: {
			"Hay mucho ruido de fondo. ¿Puede ir a un lugar más tranquilo?",
		},
	},
	"fr": {
		quality.IssueEmptyTranscript: {
			"Désolé, je n'ai pas entendu. Pouvez-vous répéter ?",
			"Je n'ai rien entendu. Veuillez réessayer.",
		},
		quality.IssueLowConfidence: {
			"Je ne suis pas sûr de vous avoir bien compris. Pouvez-vous répéter ?",
			"Pouvez-vous le redire un peu plus clairement ?",
		},
		quality.IssueIncoherentSpeech: {
			"Je n'ai pas tout à fait suivi. Pouvez-vous reformuler ?",
		},
		quality.IssuePartialRecognition: {
			"Je n'ai saisi qu'une partie. Pouvez-vous tout répéter ?",
		},
		quality.IssueLanguageMismatch: {
			"On dirait que vous avez changé de langue. Voulez-vous changer ?",
		},
		quality.IssueBackgroundNoise: {
			"Il y a beaucoup de bruit de fond. Pouvez-vous aller dans un endroit plus calme ?",
		},
	},
}

// empatheticPhrases is used once the user has already retried more than
// twice for the same kind of problem.
var empatheticPhrases = map[string][]string{
	"en": {
		"I know this is frustrating — thank you for bearing with me. Let's try once more.",
		"Thanks for your patience. Could we give it one more try?",
	},
	"de": {
		"Ich weiß, das ist frustrierend — danke für Ihre Geduld. Versuchen wir es noch einmal.",
	},
	"es": {
		"Sé que esto es frustrante, gracias por su paciencia. Intentémoslo una vez más.",
	},
	"fr": {
		"Je sais que c'est frustrant, merci de votre patience. Essayons encore une fois.",
	},
}

// apologeticPhrases is used when the session's frustration estimate is high.
var apologeticPhrases = map[string][]string{
	"en": {
		"I'm really sorry about the trouble. Let me try to do better — could you repeat that?",
		"My apologies, I'm clearly having difficulty. Could you say that once more?",
	},
	"de": {
		"Es tut mir wirklich leid. Können Sie das bitte noch einmal sagen?",
	},
	"es": {
		"Lo siento mucho. ¿Podría decirlo una vez más, por favor?",
	},
	"fr": {
		"Je suis vraiment désolé. Pouvez-vous le redire une fois de plus ?",
	},
}

// phraseLanguage resolves a BCP-47 tag to a supported catalog language,
// defaulting to English.
func phraseLanguage(tag string) string {
	base := baseLanguage(tag)
	if _, ok := neutralPhrases[base]; ok {
		return base
	}
	return "en"
}
