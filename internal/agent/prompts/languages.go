package prompts

import "github.com/maxbolgarin/sitepub/internal/model"

// LanguageConfig defines the target language for generated site copy
type LanguageConfig struct {
	Language     model.Language `yaml:"language"`
	Instructions string         `yaml:"instructions"`
}

// DefaultLanguages provides common language configurations
var DefaultLanguages = map[model.Language]LanguageConfig{
	model.LanguageEnglish: {
		Language:     model.LanguageEnglish,
		Instructions: "Write all human-readable text in clear, natural English.",
	},
	model.LanguageSpanish: {
		Language:     model.LanguageSpanish,
		Instructions: "Escribe todo el texto visible para el usuario en español claro y natural.",
	},
	model.LanguageFrench: {
		Language:     model.LanguageFrench,
		Instructions: "Rédige tout le texte visible par l'utilisateur en français clair et naturel.",
	},
	model.LanguageGerman: {
		Language:     model.LanguageGerman,
		Instructions: "Schreibe alle sichtbaren Texte in klarem, natürlichem Deutsch.",
	},
	model.LanguagePortuguese: {
		Language:     model.LanguagePortuguese,
		Instructions: "Escreva todo o texto visível ao usuário em português claro e natural.",
	},
	model.LanguageRussian: {
		Language:     model.LanguageRussian,
		Instructions: "Пиши весь видимый пользователю текст на ясном и естественном русском языке.",
	},
}
